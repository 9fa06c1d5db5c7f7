package facade

import (
	"context"
	"fmt"
	"strings"

	"github.com/recallhq/recall-go/pkg/core"
)

// VisionMemory records visual perception events.
type VisionMemory struct {
	engine *core.Engine
	owner  string
}

// NewVisionMemory creates a vision-memory façade scoped to one owner.
func NewVisionMemory(engine *core.Engine, owner string) *VisionMemory {
	return &VisionMemory{engine: engine, owner: owner}
}

// RecordDetection stores one detection event. Scenes containing faces or
// many objects get an importance bump so they outrank background noise.
func (v *VisionMemory) RecordDetection(ctx context.Context, objects []string, faces int) (int64, error) {
	var content string
	switch {
	case faces > 0 && len(objects) > 0:
		content = fmt.Sprintf("Detected %d face(s) and objects: %s", faces, strings.Join(objects, ", "))
	case faces > 0:
		content = fmt.Sprintf("Detected %d face(s)", faces)
	default:
		content = "Detected objects: " + strings.Join(objects, ", ")
	}

	importance := 0.5
	if faces > 0 {
		importance += 0.2
	}
	if len(objects) > 3 {
		importance += 0.1
	}

	return v.engine.Save(ctx, content,
		core.WithKind(core.KindVision),
		core.WithOwner(v.owner),
		core.WithImportance(importance),
		core.WithMetadata(map[string]interface{}{
			"type":    "detection",
			"objects": objects,
			"faces":   faces,
		}),
	)
}

// RecentDetections returns detection events matching the query (empty
// for all recent detections).
func (v *VisionMemory) RecentDetections(ctx context.Context, query string, limit int) ([]*core.MemoryRecord, error) {
	if query == "" {
		query = "Detected"
	}
	return v.engine.Search(ctx, query,
		core.WithKindFilter(core.KindVision),
		core.WithOwnerForSearch(v.owner),
		core.WithLimit(limit),
		core.WithSemantic(false),
	)
}
