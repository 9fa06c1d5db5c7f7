// Package facade provides typed helpers over the engine's four
// primitives for the common memory domains: user facts, session
// transcripts, agent skills, and vision events.
//
// Façades own their content and metadata conventions; the engine stores
// whatever they pass through without validation.
package facade

import (
	"context"
	"fmt"

	"github.com/recallhq/recall-go/pkg/core"
)

// UserMemory manages durable facts about one user: preferences and goals.
type UserMemory struct {
	engine *core.Engine
	owner  string
}

// NewUserMemory creates a user-memory façade scoped to one owner.
func NewUserMemory(engine *core.Engine, owner string) *UserMemory {
	return &UserMemory{engine: engine, owner: owner}
}

// SavePreference records one user preference. Saving the same key/value
// pair twice is idempotent; a changed value creates a new record that
// wins searches through recency of access.
func (u *UserMemory) SavePreference(ctx context.Context, key, value string) (int64, error) {
	content := fmt.Sprintf("User preference: %s = %s", key, value)
	return u.engine.Save(ctx, content,
		core.WithKind(core.KindUser),
		core.WithOwner(u.owner),
		core.WithMetadata(map[string]interface{}{
			"type":  "preference",
			"key":   key,
			"value": value,
		}),
	)
}

// GetPreference returns the stored value for a preference key. The
// second return value reports whether the key was found.
func (u *UserMemory) GetPreference(ctx context.Context, key string) (string, bool, error) {
	results, err := u.engine.Search(ctx, key,
		core.WithKindFilter(core.KindUser),
		core.WithOwnerForSearch(u.owner),
		core.WithSemantic(false),
	)
	if err != nil {
		return "", false, err
	}

	for _, rec := range results {
		if rec.Metadata["type"] != "preference" || rec.Metadata["key"] != key {
			continue
		}
		if value, ok := rec.Metadata["value"].(string); ok {
			return value, true, nil
		}
	}

	return "", false, nil
}

// SaveGoal records a user goal with an initial status ("active" when
// empty). Goals score high importance and land in the hot cache.
func (u *UserMemory) SaveGoal(ctx context.Context, goal, status string) (int64, error) {
	if status == "" {
		status = "active"
	}
	return u.engine.Save(ctx, "Goal: "+goal,
		core.WithKind(core.KindUser),
		core.WithOwner(u.owner),
		core.WithMetadata(map[string]interface{}{
			"type":   "goal",
			"status": status,
		}),
	)
}

// Goals returns the user's recorded goals, most relevant first.
func (u *UserMemory) Goals(ctx context.Context) ([]*core.MemoryRecord, error) {
	results, err := u.engine.Search(ctx, "Goal:",
		core.WithKindFilter(core.KindUser),
		core.WithOwnerForSearch(u.owner),
		core.WithLimit(50),
		core.WithSemantic(false),
	)
	if err != nil {
		return nil, err
	}

	var goals []*core.MemoryRecord
	for _, rec := range results {
		if rec.Metadata["type"] == "goal" {
			goals = append(goals, rec)
		}
	}
	return goals, nil
}

// UpdateGoalStatus moves a goal to a new status ("active", "achieved",
// "abandoned"). Returns false when the id does not exist.
func (u *UserMemory) UpdateGoalStatus(ctx context.Context, id int64, status string) (bool, error) {
	rec, err := u.engine.Get(ctx, id)
	if err != nil {
		return false, err
	}

	metadata := make(map[string]interface{}, len(rec.Metadata))
	for k, v := range rec.Metadata {
		metadata[k] = v
	}
	metadata["status"] = status

	return u.engine.Update(ctx, id, metadata, nil)
}
