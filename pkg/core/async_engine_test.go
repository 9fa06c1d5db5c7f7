package core_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallhq/recall-go/pkg/core"
	sqliteStore "github.com/recallhq/recall-go/pkg/storage/sqlite"
)

func newAsyncEngine(t *testing.T) *core.AsyncEngine {
	t.Helper()

	store, err := sqliteStore.NewClient(&sqliteStore.Config{
		DBPath: filepath.Join(t.TempDir(), "recall_test.db"),
	})
	require.NoError(t, err)

	engine, err := core.NewAsyncEngine(testConfig(), core.WithStore(store))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return engine
}

func TestAsyncEngine_SaveAndSearch(t *testing.T) {
	engine := newAsyncEngine(t)
	ctx := context.Background()

	saveRes := <-engine.SaveAsync(ctx, "async memory about whales")
	require.NoError(t, saveRes.Err)
	require.NotZero(t, saveRes.ID)

	searchRes := <-engine.SearchAsync(ctx, "whales", core.WithSemantic(false))
	require.NoError(t, searchRes.Err)
	require.Len(t, searchRes.Records, 1)
	assert.Equal(t, saveRes.ID, searchRes.Records[0].ID)
}

func TestAsyncEngine_ConcurrentSaves(t *testing.T) {
	engine := newAsyncEngine(t)
	ctx := context.Background()

	channels := make([]<-chan *core.SaveResult, 0, 10)
	for i := 0; i < 10; i++ {
		channels = append(channels, engine.SaveAsync(ctx,
			"concurrent save "+string(rune('a'+i))))
	}

	seen := make(map[int64]bool)
	for _, ch := range channels {
		res := <-ch
		require.NoError(t, res.Err)
		seen[res.ID] = true
	}
	assert.Len(t, seen, 10, "distinct contents get distinct ids")
}

func TestAsyncEngine_UpdateAndCleanup(t *testing.T) {
	engine := newAsyncEngine(t)
	ctx := context.Background()

	saveRes := <-engine.SaveAsync(ctx, "to be updated")
	require.NoError(t, saveRes.Err)

	imp := 0.9
	updateRes := <-engine.UpdateAsync(ctx, saveRes.ID, nil, &imp)
	require.NoError(t, updateRes.Err)
	assert.True(t, updateRes.Updated)

	cleanupRes := <-engine.CleanupAsync(ctx)
	require.NoError(t, cleanupRes.Err)
	assert.Equal(t, 1, cleanupRes.Report.LiveHashes)
}

func TestAsyncEngine_ErrorPropagation(t *testing.T) {
	engine := newAsyncEngine(t)

	res := <-engine.SaveAsync(context.Background(), "")
	assert.ErrorIs(t, res.Err, core.ErrInvalidInput)
}

func TestAsyncEngine_Wait(t *testing.T) {
	engine := newAsyncEngine(t)
	ctx := context.Background()

	ch := engine.SaveAsync(ctx, "wait for me")
	engine.Wait()

	// After Wait the result is already buffered.
	res := <-ch
	assert.NoError(t, res.Err)
}
