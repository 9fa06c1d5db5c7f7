package facade

import (
	"context"
	"fmt"

	"github.com/recallhq/recall-go/pkg/core"
)

// AgentMemory manages the assistant's own operational memory: registered
// skills, their usage counters, and recurring error patterns.
type AgentMemory struct {
	engine *core.Engine
	owner  string
}

// NewAgentMemory creates an agent-memory façade scoped to one owner.
func NewAgentMemory(engine *core.Engine, owner string) *AgentMemory {
	return &AgentMemory{engine: engine, owner: owner}
}

// RegisterSkill records a skill the agent can perform. Re-registering an
// identical skill is idempotent.
func (a *AgentMemory) RegisterSkill(ctx context.Context, name, description string) (int64, error) {
	content := fmt.Sprintf("Skill: %s - %s", name, description)
	return a.engine.Save(ctx, content,
		core.WithKind(core.KindAgent),
		core.WithOwner(a.owner),
		core.WithMetadata(map[string]interface{}{
			"type":        "skill",
			"name":        name,
			"usage_count": 0,
		}),
	)
}

// RecordSkillUse increments a skill's usage counter. The counter lives in
// metadata, so this is a read-modify-write; concurrent bumps may lose
// increments, which is acceptable for a popularity signal.
func (a *AgentMemory) RecordSkillUse(ctx context.Context, id int64) (bool, error) {
	rec, err := a.engine.Get(ctx, id)
	if err != nil {
		return false, err
	}

	metadata := make(map[string]interface{}, len(rec.Metadata))
	for k, v := range rec.Metadata {
		metadata[k] = v
	}
	metadata["usage_count"] = usageCount(rec.Metadata) + 1

	return a.engine.Update(ctx, id, metadata, nil)
}

// FindSkills searches the agent's registered skills.
func (a *AgentMemory) FindSkills(ctx context.Context, query string) ([]*core.MemoryRecord, error) {
	results, err := a.engine.Search(ctx, query,
		core.WithKindFilter(core.KindAgent),
		core.WithOwnerForSearch(a.owner),
		core.WithSemantic(false),
	)
	if err != nil {
		return nil, err
	}

	var skills []*core.MemoryRecord
	for _, rec := range results {
		if rec.Metadata["type"] == "skill" {
			skills = append(skills, rec)
		}
	}
	return skills, nil
}

// RecordErrorPattern stores a recurring failure and its resolution.
// Error patterns score boosted importance so they stay hot.
func (a *AgentMemory) RecordErrorPattern(ctx context.Context, description, resolution string) (int64, error) {
	return a.engine.Save(ctx, "Error pattern: "+description,
		core.WithKind(core.KindAgent),
		core.WithOwner(a.owner),
		core.WithMetadata(map[string]interface{}{
			"type":       "error_pattern",
			"resolution": resolution,
		}),
	)
}

// usageCount reads the counter out of metadata. JSON round-trips turn
// ints into float64, so both are accepted.
func usageCount(metadata map[string]interface{}) int {
	switch v := metadata["usage_count"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
