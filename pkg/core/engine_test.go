package core_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/core"
	"github.com/recallhq/recall-go/pkg/delegate"
	"github.com/recallhq/recall-go/pkg/storage"
	sqliteStore "github.com/recallhq/recall-go/pkg/storage/sqlite"
)

// stubEmbedder returns canned vectors so vector search is deterministic.
type stubEmbedder struct {
	vectors map[string][]float64
	failure error
	closed  bool
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	if s.failure != nil {
		return nil, s.failure
	}
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float64{0, 1}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, 0, len(texts))
	for _, text := range texts {
		v, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return 2 }

func (s *stubEmbedder) Close() error {
	s.closed = true
	return nil
}

// stubDelegate records mirror writes and serves canned search hits.
type stubDelegate struct {
	mu      sync.Mutex
	added   []string
	deleted []string
	hits    []delegate.Hit
	block   bool
	nextID  int
	closed  bool
}

func (s *stubDelegate) Add(_ context.Context, text, _ string, _ map[string]interface{}) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, text)
	s.nextID++
	return fmt.Sprintf("del-%d", s.nextID), nil
}

func (s *stubDelegate) Search(ctx context.Context, _, _ string, limit int) ([]delegate.Hit, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if limit > len(s.hits) {
		limit = len(s.hits)
	}
	return s.hits[:limit], nil
}

func (s *stubDelegate) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubDelegate) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubDelegate) addCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.added)
}

func (s *stubDelegate) deletedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deleted...)
}

func testConfig() *core.Config {
	return &core.Config{
		Store: core.StoreConfig{Provider: "sqlite"},
	}
}

// newTestEngine builds an engine on a throwaway SQLite store, returning the
// raw store for tests that need to seed rows directly.
func newTestEngine(t *testing.T, cfg *core.Config, opts ...core.EngineOption) (*core.Engine, storage.Store) {
	t.Helper()

	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath: filepath.Join(t.TempDir(), "recall_test.db"),
	})
	require.NoError(t, err)

	if cfg == nil {
		cfg = testConfig()
	}
	engine, err := core.New(cfg, append([]core.EngineOption{core.WithStore(store)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return engine, store
}

func TestEngine_SaveAndGet(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	id, err := engine.Save(ctx, "dark roast coffee",
		core.WithKind(core.KindUser),
		core.WithMetadata(map[string]interface{}{"type": "preference"}),
	)
	require.NoError(t, err)
	require.NotZero(t, id)

	rec, err := engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "dark roast coffee", rec.Content)
	assert.Equal(t, core.KindUser, rec.Kind)
	assert.Equal(t, "default", rec.Owner)
	assert.InDelta(t, 0.8, rec.Importance, 0.001, "base 0.5 plus preference boost")
}

func TestEngine_SaveRejectsEmptyContent(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	_, err := engine.Save(context.Background(), "   \n\t ")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestEngine_SaveIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	first, err := engine.Save(ctx, "用户偏好: theme=dark", core.WithKind(core.KindUser))
	require.NoError(t, err)

	second, err := engine.Save(ctx, "用户偏好: theme=dark", core.WithKind(core.KindUser))
	require.NoError(t, err)
	assert.Equal(t, first, second, "same content for the same owner keeps one record")

	// A different owner gets its own record.
	third, err := engine.Save(ctx, "用户偏好: theme=dark",
		core.WithKind(core.KindUser), core.WithOwner("alice"))
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestEngine_SaveReplacesExpiredRow(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	ctx := context.Background()

	content := "用户偏好: theme=dark"
	sum := sha256.Sum256([]byte(content))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.Insert(ctx, &storage.Record{
		ID: 7, Kind: core.KindUser, Content: content, Owner: "default",
		ContentHash: hex.EncodeToString(sum[:]), Importance: 0.9, ExpiresAt: &past,
	}))

	// The dead row still holds the (owner, content_hash) slot; a fresh
	// save must evict it rather than resurrect its id.
	id, err := engine.Save(ctx, content, core.WithKind(core.KindUser))
	require.NoError(t, err)
	assert.NotEqual(t, int64(7), id)

	rec, err := engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, content, rec.Content)

	results, err := engine.Search(ctx, "偏好", core.WithSemantic(false))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
}

func TestEngine_SaveImportanceOverride(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	id, err := engine.Save(ctx, "manual score", core.WithImportance(0.42))
	require.NoError(t, err)
	rec, err := engine.Get(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.42, rec.Importance, 0.001)

	// Out-of-range overrides are clamped.
	id, err = engine.Save(ctx, "too high", core.WithImportance(1.5))
	require.NoError(t, err)
	rec, err = engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.Importance)
}

func TestEngine_GetExpired(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.Insert(ctx, &storage.Record{
		ID: 7, Kind: core.KindSession, Content: "stale", Owner: "default",
		ContentHash: "stale-hash", Importance: 0.5, ExpiresAt: &past,
	}))

	_, err := engine.Get(ctx, 7)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestEngine_SearchKeyword(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := engine.Save(ctx, "coffee brewing notes", core.WithImportance(0.4))
	require.NoError(t, err)
	best, err := engine.Save(ctx, "coffee is essential", core.WithImportance(0.9))
	require.NoError(t, err)
	_, err = engine.Save(ctx, "tea ceremony", core.WithImportance(0.9))
	require.NoError(t, err)

	results, err := engine.Search(ctx, "coffee", core.WithSemantic(false))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, best, results[0].ID, "equal relevance falls back to importance")
}

func TestEngine_SearchCaseSensitive(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	// One record lands in the hot cache, the other stays store-only, so
	// both match paths answer the same query.
	_, err := engine.Save(ctx, "Budget Review scheduled", core.WithImportance(0.9))
	require.NoError(t, err)
	_, err = engine.Save(ctx, "Budget Review follow-up", core.WithImportance(0.4))
	require.NoError(t, err)

	results, err := engine.Search(ctx, "Budget Review", core.WithSemantic(false))
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = engine.Search(ctx, "budget review", core.WithSemantic(false))
	require.NoError(t, err)
	assert.Empty(t, results, "cache and store apply the same case-sensitive match")
}

func TestEngine_SearchChineseContent(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	id, err := engine.Save(ctx, "用户偏好: theme=dark", core.WithKind(core.KindUser))
	require.NoError(t, err)

	results, err := engine.Search(ctx, "偏好", core.WithSemantic(false))
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, id, results[0].ID)
}

func TestEngine_SearchKindFilter(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := engine.Save(ctx, "meeting notes", core.WithKind(core.KindSession))
	require.NoError(t, err)
	visionID, err := engine.Save(ctx, "meeting room camera feed", core.WithKind(core.KindVision))
	require.NoError(t, err)

	results, err := engine.Search(ctx, "meeting",
		core.WithKindFilter(core.KindVision), core.WithSemantic(false))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, visionID, results[0].ID)
}

func TestEngine_SearchAccessBump(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "recall_test.db")
	store, err := sqliteStore.NewClient(&sqliteStore.Config{DBPath: dbPath})
	require.NoError(t, err)

	engine, err := core.New(testConfig(), core.WithStore(store))
	require.NoError(t, err)
	ctx := context.Background()

	id, err := engine.Save(ctx, "bump target")
	require.NoError(t, err)

	_, err = engine.Search(ctx, "bump", core.WithSemantic(false))
	require.NoError(t, err)

	// Access bumps run detached; Close waits for them before shutting
	// down the store.
	require.NoError(t, engine.Close())

	reopened, err := sqliteStore.NewClient(&sqliteStore.Config{DBPath: dbPath})
	require.NoError(t, err)
	defer reopened.Close()

	rec, err := reopened.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.AccessCount)
}

func TestEngine_SearchVector(t *testing.T) {
	emb := &stubEmbedder{vectors: map[string][]float64{
		"orchard produce": {1, 0},
		"malus domestica": {0.95, 0.05},
		"quantum flux":    {0, 1},
	}}
	engine, _ := newTestEngine(t, nil, core.WithEmbedder(emb))
	ctx := context.Background()

	match, err := engine.Save(ctx, "malus domestica")
	require.NoError(t, err)
	_, err = engine.Save(ctx, "quantum flux")
	require.NoError(t, err)

	results, err := engine.Search(ctx, "orchard produce")
	require.NoError(t, err)
	require.Len(t, results, 1, "orthogonal vectors stay below the similarity floor")
	assert.Equal(t, match, results[0].ID)
	assert.Equal(t, core.SourceVector, results[0].Source)
}

func TestEngine_SearchDelegateShortCircuit(t *testing.T) {
	del := &stubDelegate{hits: []delegate.Hit{
		{ID: "ext-1", Text: "remote memory one", Score: 0.9},
		{ID: "ext-2", Text: "remote memory two", Score: 0.8},
	}}
	engine, _ := newTestEngine(t, nil, core.WithDelegate(del))
	ctx := context.Background()

	_, err := engine.Save(ctx, "local memory about remote things")
	require.NoError(t, err)

	results, err := engine.Search(ctx, "remote", core.WithLimit(2))
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, rec := range results {
		assert.Equal(t, core.SourceDelegate, rec.Source)
		assert.Zero(t, rec.ID, "unknown delegate ids are surfaced without a local id")
	}
}

func TestEngine_SearchDelegateUnderfilled(t *testing.T) {
	del := &stubDelegate{hits: []delegate.Hit{
		{ID: "ext-1", Text: "remote memory one", Score: 0.9},
	}}
	engine, _ := newTestEngine(t, nil, core.WithDelegate(del))
	ctx := context.Background()

	localID, err := engine.Save(ctx, "local remote affairs")
	require.NoError(t, err)

	results, err := engine.Search(ctx, "remote", core.WithLimit(5))
	require.NoError(t, err)
	require.Len(t, results, 2, "delegate underfill keeps local sources in play")

	var sawLocal bool
	for _, rec := range results {
		if rec.ID == localID {
			sawLocal = true
		}
	}
	assert.True(t, sawLocal)
}

func TestEngine_SearchDelegateTimeout(t *testing.T) {
	del := &stubDelegate{block: true}
	cfg := testConfig()
	cfg.Engine.DelegateTimeoutSeconds = 1

	engine, _ := newTestEngine(t, cfg, core.WithDelegate(del))
	ctx := context.Background()

	id, err := engine.Save(ctx, "patience pays off")
	require.NoError(t, err)

	start := time.Now()
	results, err := engine.Search(ctx, "patience", core.WithSemantic(true))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	require.Len(t, results, 1, "local sources answer when the delegate stalls")
	assert.Equal(t, id, results[0].ID)
}

func TestEngine_SaveMirrorsToDelegate(t *testing.T) {
	del := &stubDelegate{}
	engine, store := newTestEngine(t, nil, core.WithDelegate(del))
	ctx := context.Background()

	id, err := engine.Save(ctx, "mirrored memory")
	require.NoError(t, err)
	assert.Equal(t, 1, del.addCount())

	rec, err := store.GetByDelegateID(ctx, "del-1")
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)

	// The duplicate fast path does not mirror again.
	_, err = engine.Save(ctx, "mirrored memory")
	require.NoError(t, err)
	assert.Equal(t, 1, del.addCount())
}

func TestEngine_Update(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	id, err := engine.Save(ctx, "goal: learn go",
		core.WithMetadata(map[string]interface{}{"type": "goal", "status": "active"}))
	require.NoError(t, err)

	imp := 0.25
	updated, err := engine.Update(ctx, id, map[string]interface{}{
		"type": "goal", "status": "completed",
	}, &imp)
	require.NoError(t, err)
	assert.True(t, updated)

	rec, err := engine.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "completed", rec.Metadata["status"])
	assert.InDelta(t, 0.25, rec.Importance, 0.001)

	updated, err = engine.Update(ctx, 9999, nil, &imp)
	require.NoError(t, err)
	assert.False(t, updated)

	_, err = engine.Update(ctx, id, nil, nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestEngine_UpdateExpiredStaysOutOfCache(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.Insert(ctx, &storage.Record{
		ID: 42, Kind: core.KindUser, Content: "expired preference note", Owner: "default",
		ContentHash: "expired-note-hash", Importance: 0.95, ExpiresAt: &past,
	}))

	imp := 0.99
	updated, err := engine.Update(ctx, 42, map[string]interface{}{"type": "preference"}, &imp)
	require.NoError(t, err)
	assert.True(t, updated, "the row still exists, it just expired")

	_, err = engine.Get(ctx, 42)
	assert.ErrorIs(t, err, core.ErrNotFound)

	results, err := engine.Search(ctx, "expired preference", core.WithSemantic(false))
	require.NoError(t, err)
	assert.Empty(t, results, "an expired record must not be served from the cache")
}

func TestEngine_DeleteFreesHash(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	id, err := engine.Save(ctx, "ephemeral thought")
	require.NoError(t, err)
	require.NoError(t, engine.Delete(ctx, id))

	_, err = engine.Get(ctx, id)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, engine.Delete(ctx, id), core.ErrNotFound)

	// The content may be saved again under a fresh id.
	again, err := engine.Save(ctx, "ephemeral thought")
	require.NoError(t, err)
	assert.NotEqual(t, id, again)
}

func TestEngine_PurgeOwner(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := engine.Save(ctx, "alice fact one", core.WithOwner("alice"))
	require.NoError(t, err)
	_, err = engine.Save(ctx, "alice fact two", core.WithOwner("alice"))
	require.NoError(t, err)
	bobID, err := engine.Save(ctx, "bob fact", core.WithOwner("bob"))
	require.NoError(t, err)

	purged, err := engine.PurgeOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	_, err = engine.Get(ctx, bobID)
	assert.NoError(t, err)

	results, err := engine.Search(ctx, "alice",
		core.WithOwnerForSearch("alice"), core.WithSemantic(false))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngine_SessionMessages(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := engine.SaveSessionMessage(ctx, "s1", "user",
			fmt.Sprintf("turn %d", i), nil)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	msgs, err := engine.SessionContext(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "turn 1", msgs[0].Content)
	assert.Equal(t, "turn 2", msgs[1].Content, "chronological order, most recent tail")

	_, err = engine.SaveSessionMessage(ctx, "", "user", "orphan", nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestEngine_Cleanup(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	ctx := context.Background()

	keep, err := engine.Save(ctx, "memory that stays")
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.Insert(ctx, &storage.Record{
		ID: 42, Kind: core.KindSession, Content: "gone soon", Owner: "default",
		ContentHash: "gone-hash", Importance: 0.5, ExpiresAt: &past,
	}))
	require.NoError(t, store.InsertSessionMessage(ctx, &storage.SessionMessage{
		ID: 1, SessionID: "old", Role: "user", Content: "ancient turn",
		Timestamp: time.Now().Add(-90 * 24 * time.Hour),
	}))
	require.NoError(t, store.InsertMapping(ctx, &storage.DelegateMapping{
		ID: 2, LocalID: 9999, DelegateID: "del-orphan",
	}))

	report, err := engine.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.ExpiredRecords)
	assert.Equal(t, int64(1), report.SessionMessages)
	assert.Equal(t, int64(1), report.OrphanedMappings)
	assert.Equal(t, 1, report.LiveHashes)

	_, err = engine.Get(ctx, keep)
	assert.NoError(t, err)
}

func TestEngine_CleanupDeletesDelegateMirrors(t *testing.T) {
	del := &stubDelegate{}
	engine, _ := newTestEngine(t, nil, core.WithDelegate(del))
	ctx := context.Background()

	id, err := engine.Save(ctx, "mirrored then erased")
	require.NoError(t, err)
	require.NoError(t, engine.Delete(ctx, id))

	report, err := engine.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.OrphanedMappings)
	assert.Equal(t, []string{"del-1"}, del.deletedIDs(),
		"the janitor removes the mirror before pruning its mapping")
}

func TestEngine_Stats(t *testing.T) {
	del := &stubDelegate{}
	engine, _ := newTestEngine(t, nil, core.WithDelegate(del))
	ctx := context.Background()

	_, err := engine.Save(ctx, "stats subject", core.WithKind(core.KindUser))
	require.NoError(t, err)

	stats, err := engine.Stats(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalCount)
	assert.Equal(t, int64(1), stats.CountsByKind[core.KindUser])
	assert.True(t, stats.DelegateEnabled)
	assert.False(t, stats.EmbeddingEnabled)
	assert.Greater(t, stats.StoreSizeBytes, int64(0))
}

func TestEngine_JanitorLifecycle(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	engine.StartJanitor()
	engine.StartJanitor() // second start is a no-op
	engine.StopJanitor()
	engine.StopJanitor() // stop when not running is safe

	// Close stops a running janitor itself.
	engine.StartJanitor()
	require.NoError(t, engine.Close())
}

func TestEngine_CleanupSingleFlight(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := engine.Save(ctx, "resident memory")
	require.NoError(t, err)

	report, err := engine.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.LiveHashes)

	// Back-to-back runs are fine once the previous pass finished.
	report, err = engine.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.LiveHashes)
}

func TestEngine_NewClosesProvidersOnInitFailure(t *testing.T) {
	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath: filepath.Join(t.TempDir(), "recall_test.db"),
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	emb := &stubEmbedder{}
	del := &stubDelegate{}
	_, err = core.New(testConfig(),
		core.WithStore(store), core.WithEmbedder(emb), core.WithDelegate(del))
	require.Error(t, err, "hash warmup cannot read a closed store")
	assert.True(t, emb.closed, "failed construction must release the embedder")
	assert.True(t, del.closed, "failed construction must release the delegate")
}

func TestEngine_ClosedEngine(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close(), "close is idempotent")

	_, err := engine.Save(context.Background(), "too late")
	assert.ErrorIs(t, err, core.ErrEngineClosed)

	_, err = engine.Search(context.Background(), "anything")
	assert.ErrorIs(t, err, core.ErrEngineClosed)
}
