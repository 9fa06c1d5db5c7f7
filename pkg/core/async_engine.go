package core

import (
	"context"
	"sync"
)

// AsyncEngine provides asynchronous engine operations.
//
// It wraps the synchronous Engine and executes operations in separate
// goroutines, returning channels that receive the results. The wrapper
// tracks its goroutines and Wait blocks until all of them finish.
//
// Example:
//
//	async, _ := core.NewAsyncEngine(config)
//	defer async.Close()
//
//	resultChan := async.SaveAsync(ctx, "User likes Go", core.WithKind(core.KindUser))
//	result := <-resultChan
//	if result.Err != nil {
//	    log.Fatal(result.Err)
//	}
type AsyncEngine struct {
	*Engine
	wg sync.WaitGroup
}

// NewAsyncEngine creates an asynchronous engine from the configuration.
func NewAsyncEngine(cfg *Config, opts ...EngineOption) (*AsyncEngine, error) {
	engine, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	return &AsyncEngine{Engine: engine}, nil
}

// SaveResult contains the result of an asynchronous Save.
type SaveResult struct {
	// ID is the saved record's id (zero if Err is set).
	ID int64

	// Err is the operation error, nil on success.
	Err error
}

// SearchResult contains the result of an asynchronous Search.
type SearchResult struct {
	// Records is the ranked result list.
	Records []*MemoryRecord

	// Err is the operation error, nil on success.
	Err error
}

// UpdateResult contains the result of an asynchronous Update.
type UpdateResult struct {
	// Updated reports whether a record was modified.
	Updated bool

	// Err is the operation error, nil on success.
	Err error
}

// CleanupResult contains the result of an asynchronous Cleanup.
type CleanupResult struct {
	// Report summarizes the janitor run.
	Report *CleanupReport

	// Err is the operation error, nil on success.
	Err error
}

// SaveAsync saves a memory in a separate goroutine and returns the result
// channel.
func (ae *AsyncEngine) SaveAsync(ctx context.Context, content string, opts ...SaveOption) <-chan *SaveResult {
	resultChan := make(chan *SaveResult, 1)
	ae.wg.Add(1)

	go func() {
		defer ae.wg.Done()
		id, err := ae.Save(ctx, content, opts...)
		resultChan <- &SaveResult{ID: id, Err: err}
		close(resultChan)
	}()

	return resultChan
}

// SearchAsync searches memories in a separate goroutine and returns the
// result channel.
func (ae *AsyncEngine) SearchAsync(ctx context.Context, query string, opts ...SearchOption) <-chan *SearchResult {
	resultChan := make(chan *SearchResult, 1)
	ae.wg.Add(1)

	go func() {
		defer ae.wg.Done()
		records, err := ae.Search(ctx, query, opts...)
		resultChan <- &SearchResult{Records: records, Err: err}
		close(resultChan)
	}()

	return resultChan
}

// UpdateAsync updates a memory in a separate goroutine and returns the
// result channel.
func (ae *AsyncEngine) UpdateAsync(ctx context.Context, id int64, metadata map[string]interface{}, importance *float64) <-chan *UpdateResult {
	resultChan := make(chan *UpdateResult, 1)
	ae.wg.Add(1)

	go func() {
		defer ae.wg.Done()
		updated, err := ae.Update(ctx, id, metadata, importance)
		resultChan <- &UpdateResult{Updated: updated, Err: err}
		close(resultChan)
	}()

	return resultChan
}

// CleanupAsync runs a janitor pass in a separate goroutine and returns
// the result channel.
func (ae *AsyncEngine) CleanupAsync(ctx context.Context) <-chan *CleanupResult {
	resultChan := make(chan *CleanupResult, 1)
	ae.wg.Add(1)

	go func() {
		defer ae.wg.Done()
		report, err := ae.Cleanup(ctx)
		resultChan <- &CleanupResult{Report: report, Err: err}
		close(resultChan)
	}()

	return resultChan
}

// Wait blocks until all asynchronous operations complete.
func (ae *AsyncEngine) Wait() {
	ae.wg.Wait()
}

// Close waits for in-flight operations and closes the underlying engine.
func (ae *AsyncEngine) Close() error {
	ae.Wait()
	return ae.Engine.Close()
}
