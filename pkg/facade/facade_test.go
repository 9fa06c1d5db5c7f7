package facade_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/facade"
	sqliteStore "github.com/recallhq/recall-go/pkg/storage/sqlite"
)

func newTestEngine(t *testing.T) *core.Engine {
	t.Helper()

	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath: filepath.Join(t.TempDir(), "recall_test.db"),
	})
	require.NoError(t, err)

	engine, err := core.New(&core.Config{
		Store: core.StoreConfig{Provider: "sqlite"},
	}, core.WithStore(store))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return engine
}

func TestUserMemory_Preferences(t *testing.T) {
	user := facade.NewUserMemory(newTestEngine(t), "alice")
	ctx := context.Background()

	id, err := user.SavePreference(ctx, "theme", "dark")
	require.NoError(t, err)

	again, err := user.SavePreference(ctx, "theme", "dark")
	require.NoError(t, err)
	assert.Equal(t, id, again, "identical preference is idempotent")

	value, found, err := user.GetPreference(ctx, "theme")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "dark", value)

	_, found, err = user.GetPreference(ctx, "nonexistent")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUserMemory_Goals(t *testing.T) {
	engine := newTestEngine(t)
	user := facade.NewUserMemory(engine, "alice")
	ctx := context.Background()

	id, err := user.SaveGoal(ctx, "learn spanish", "")
	require.NoError(t, err)

	rec, err := engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Goal: learn spanish", rec.Content)
	assert.Equal(t, "active", rec.Metadata["status"])
	assert.InDelta(t, 1.0, rec.Importance, 0.001, "goal type boost plus keyword hit")

	goals, err := user.Goals(ctx)
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, id, goals[0].ID)

	updated, err := user.UpdateGoalStatus(ctx, id, "achieved")
	require.NoError(t, err)
	assert.True(t, updated)

	rec, err = engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "achieved", rec.Metadata["status"])

	_, err = user.UpdateGoalStatus(ctx, 9999, "achieved")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAgentMemory_Skills(t *testing.T) {
	engine := newTestEngine(t)
	agent := facade.NewAgentMemory(engine, "assistant")
	ctx := context.Background()

	id, err := agent.RegisterSkill(ctx, "web_search", "Searches the web for current information")
	require.NoError(t, err)

	again, err := agent.RegisterSkill(ctx, "web_search", "Searches the web for current information")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	bumped, err := agent.RecordSkillUse(ctx, id)
	require.NoError(t, err)
	assert.True(t, bumped)
	bumped, err = agent.RecordSkillUse(ctx, id)
	require.NoError(t, err)
	assert.True(t, bumped)

	rec, err := engine.Get(ctx, id)
	require.NoError(t, err)
	// Metadata round-trips through JSON, so the counter comes back as a float.
	assert.EqualValues(t, 2, rec.Metadata["usage_count"])

	skills, err := agent.FindSkills(ctx, "web")
	require.NoError(t, err)
	require.Len(t, skills, 1)
	assert.Equal(t, "web_search", skills[0].Metadata["name"])

	_, err = agent.RecordSkillUse(ctx, 9999)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAgentMemory_ErrorPatterns(t *testing.T) {
	engine := newTestEngine(t)
	agent := facade.NewAgentMemory(engine, "assistant")
	ctx := context.Background()

	id, err := agent.RecordErrorPattern(ctx, "api timeout on large prompts", "retry with smaller chunks")
	require.NoError(t, err)

	rec, err := engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Error pattern: api timeout on large prompts", rec.Content)
	assert.Equal(t, "retry with smaller chunks", rec.Metadata["resolution"])
	assert.InDelta(t, 0.85, rec.Importance, 0.001, "error_pattern type boost")
}

func TestVisionMemory_Detections(t *testing.T) {
	engine := newTestEngine(t)
	vision := facade.NewVisionMemory(engine, "camera-1")
	ctx := context.Background()

	id, err := vision.RecordDetection(ctx, []string{"cup", "laptop", "phone", "book"}, 2)
	require.NoError(t, err)

	rec, err := engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Detected 2 face(s) and objects: cup, laptop, phone, book", rec.Content)
	assert.InDelta(t, 0.8, rec.Importance, 0.001, "faces and object-count bumps")

	facesOnly, err := vision.RecordDetection(ctx, nil, 1)
	require.NoError(t, err)
	rec, err = engine.Get(ctx, facesOnly)
	require.NoError(t, err)
	assert.Equal(t, "Detected 1 face(s)", rec.Content)
	assert.InDelta(t, 0.7, rec.Importance, 0.001)

	objectsOnly, err := vision.RecordDetection(ctx, []string{"chair"}, 0)
	require.NoError(t, err)
	rec, err = engine.Get(ctx, objectsOnly)
	require.NoError(t, err)
	assert.Equal(t, "Detected objects: chair", rec.Content)
	assert.InDelta(t, 0.5, rec.Importance, 0.001)

	detections, err := vision.RecentDetections(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, detections, 3)
}

func TestSessionMemory_Transcript(t *testing.T) {
	engine := newTestEngine(t)
	session := facade.NewSessionMemory(engine, "alice", "sess-1")
	ctx := context.Background()

	_, err := session.AddTurn(ctx, "user", "how do I brew pour-over coffee?", nil)
	require.NoError(t, err)
	_, err = session.AddTurn(ctx, "assistant", "start with a medium-fine grind", nil)
	require.NoError(t, err)

	turns, err := session.Context(ctx, 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "assistant", turns[1].Role)
}

func TestSessionMemory_PromoteAndSummarize(t *testing.T) {
	engine := newTestEngine(t)
	session := facade.NewSessionMemory(engine, "alice", "sess-1")
	ctx := context.Background()

	promoted, err := session.PromoteTurn(ctx, "user", "my daughter's birthday is March 3rd")
	require.NoError(t, err)

	rec, err := engine.Get(ctx, promoted)
	require.NoError(t, err)
	assert.Equal(t, core.KindSession, rec.Kind)
	assert.Equal(t, "important_turn", rec.Metadata["type"])
	assert.Equal(t, "sess-1", rec.Metadata["session_id"])
	assert.Nil(t, rec.ExpiresAt, "promoted turns are durable")

	summary, err := session.SaveSummary(ctx, "Discussed coffee brewing and birthday plans")
	require.NoError(t, err)

	rec, err = engine.Get(ctx, summary)
	require.NoError(t, err)
	assert.Equal(t, "summary", rec.Metadata["type"])
	require.NotNil(t, rec.ExpiresAt, "summaries carry a bounded lifetime")
}
