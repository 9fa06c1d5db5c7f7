package core

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"time"

	"github.com/recallhq/recall-go/pkg/storage"
)

// hashKeySep joins owner and content hash in the live-hash set. The owner
// never contains a NUL byte.
const hashKeySep = "\x00"

// contentHash returns the deterministic digest used for deduplication.
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// hashKey builds the live-hash set key for one (owner, content_hash).
func hashKey(owner, hash string) string {
	return owner + hashKeySep + hash
}

// clampScore bounds an importance or relevance score to [0.0, 1.0].
func clampScore(v float64) float64 {
	return math.Max(0.0, math.Min(1.0, v))
}

// metadataType extracts the scoring-relevant "type" field.
func metadataType(metadata map[string]interface{}) string {
	if metadata == nil {
		return ""
	}
	if t, ok := metadata["type"].(string); ok {
		return t
	}
	return ""
}

// isExpired reports whether a record's expiry deadline has passed.
func isExpired(rec *storage.Record, now time.Time) bool {
	return rec.ExpiresAt != nil && rec.ExpiresAt.Before(now)
}

// toMemoryRecord converts a storage row to the engine's view type.
func toMemoryRecord(rec *storage.Record) *MemoryRecord {
	return &MemoryRecord{
		ID:          rec.ID,
		Kind:        rec.Kind,
		Content:     rec.Content,
		Metadata:    rec.Metadata,
		Importance:  rec.Importance,
		AccessCount: rec.AccessCount,
		Owner:       rec.Owner,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		ExpiresAt:   rec.ExpiresAt,
	}
}
