package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/recallhq/recall-go/pkg/intelligence"
	"github.com/recallhq/recall-go/pkg/storage"
)

// Search performs a hybrid search across four sources: the delegate
// provider, the hot cache, a keyword scan of the durable store, and a
// cosine-similarity scan over embedded rows. Results are merged,
// deduplicated by id and content hash, ranked by (relevance, importance)
// descending, and truncated to the limit.
//
// The delegate call is bounded by its own timeout and never blocks the
// local sources; when the delegate alone fills the limit the local
// sources are skipped (tunable via DisableDelegateShortCircuit). Every
// returned local record has its access count incremented in a single
// batched, fire-and-forget update.
func (e *Engine) Search(ctx context.Context, query string, opts ...SearchOption) ([]*MemoryRecord, error) {
	if err := e.checkClosed("Search"); err != nil {
		return nil, err
	}

	searchOpts := e.applySearchOptions(opts)

	// Delegate query runs concurrently with the local scans.
	var delegateCh chan []*MemoryRecord
	if e.delegate != nil && searchOpts.Semantic {
		delegateCh = make(chan []*MemoryRecord, 1)
		go func() {
			dctx, cancel := context.WithTimeout(ctx, e.cfg.Engine.delegateTimeout())
			defer cancel()
			delegateCh <- e.delegateQuery(dctx, query, searchOpts)
		}()
	}

	var cacheHits, keywordHits []*MemoryRecord
	var keywordErr error
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		cacheHits = e.cacheScan(query, searchOpts)
	}()
	go func() {
		defer wg.Done()
		keywordHits, keywordErr = e.keywordScan(ctx, query, searchOpts)
	}()
	wg.Wait()

	var delegateHits []*MemoryRecord
	if delegateCh != nil {
		delegateHits = <-delegateCh
		if len(delegateHits) >= searchOpts.Limit && !e.cfg.Engine.DisableDelegateShortCircuit {
			results := rankResults(mergeResults(delegateHits), searchOpts.Limit)
			e.bumpAccess(results)
			return results, nil
		}
	}

	if keywordErr != nil {
		// The cache and delegate may still produce results, but a failing
		// store is worth surfacing.
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, NewEngineError("Search", ctx.Err())
		}
		return nil, NewEngineError("Search", keywordErr)
	}

	merged := mergeResults(delegateHits, cacheHits, keywordHits)

	// Vector scan only when the cheaper sources under-filled the limit.
	if len(merged) < searchOpts.Limit && e.embedder != nil && searchOpts.Semantic {
		vectorHits, err := e.vectorScan(ctx, query, searchOpts)
		if err != nil {
			e.logger.Warn("vector scan failed", "error", err)
		} else {
			merged = mergeResults(merged, vectorHits)
		}
	}

	results := rankResults(merged, searchOpts.Limit)
	e.bumpAccess(results)

	return results, nil
}

// delegateQuery asks the delegate provider and translates hits back to
// local records through the mapping table. Hits without a mapping surface
// the delegate's own text and metadata. Failures degrade to no results.
func (e *Engine) delegateQuery(ctx context.Context, query string, opts *SearchOptions) []*MemoryRecord {
	hits, err := e.delegate.Search(ctx, query, opts.Owner, opts.Limit)
	if err != nil {
		e.logger.Warn("delegate search failed", "error", err)
		return nil
	}

	now := time.Now()
	var records []*MemoryRecord
	for _, hit := range hits {
		rec, err := e.store.GetByDelegateID(ctx, hit.ID)
		switch {
		case err == nil:
			if isExpired(rec, now) {
				continue
			}
			if hasKindFilter(opts.Kind) && rec.Kind != opts.Kind {
				continue
			}
			view := toMemoryRecord(rec)
			view.Relevance = clampScore(hit.Score)
			view.Source = SourceDelegate
			records = append(records, view)
		case errors.Is(err, storage.ErrNotFound):
			// The delegate holds a memory the local store does not.
			records = append(records, &MemoryRecord{
				Content:   hit.Text,
				Metadata:  hit.Metadata,
				Owner:     opts.Owner,
				Relevance: clampScore(hit.Score),
				Source:    SourceDelegate,
			})
		default:
			e.logger.Warn("delegate mapping lookup failed", "delegate_id", hit.ID, "error", err)
		}
	}

	return records
}

// cacheScan searches the hot cache; relevance is the token overlap
// between query and content.
func (e *Engine) cacheScan(query string, opts *SearchOptions) []*MemoryRecord {
	entries := e.cache.Scan(opts.Owner, opts.Kind, query)

	records := make([]*MemoryRecord, 0, len(entries))
	for _, entry := range entries {
		records = append(records, &MemoryRecord{
			ID:         entry.ID,
			Kind:       entry.Kind,
			Content:    entry.Content,
			Metadata:   entry.Metadata,
			Importance: entry.Importance,
			Owner:      entry.Owner,
			ExpiresAt:  entry.ExpiresAt,
			Relevance:  intelligence.TokenOverlap(query, entry.Content),
			Source:     SourceCache,
		})
	}

	return records
}

// keywordScan performs the durable store's substring search.
func (e *Engine) keywordScan(ctx context.Context, query string, opts *SearchOptions) ([]*MemoryRecord, error) {
	rows, err := e.store.Search(ctx, &storage.SearchOptions{
		Owner: opts.Owner,
		Kind:  opts.Kind,
		Query: query,
		Limit: opts.Limit,
	})
	if err != nil {
		return nil, err
	}

	records := make([]*MemoryRecord, 0, len(rows))
	for _, rec := range rows {
		view := toMemoryRecord(rec)
		view.Relevance = intelligence.TokenOverlap(query, rec.Content)
		view.Source = SourceKeyword
		records = append(records, view)
	}

	return records, nil
}

// vectorScan embeds the query and ranks the owner's most important
// embedded rows by cosine similarity, keeping hits above the floor.
func (e *Engine) vectorScan(ctx context.Context, query string, opts *SearchOptions) ([]*MemoryRecord, error) {
	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates, err := e.store.EmbeddedCandidates(ctx, &storage.CandidateOptions{
		Owner: opts.Owner,
		Kind:  opts.Kind,
		Limit: e.cfg.Engine.VectorCandidateLimit,
	})
	if err != nil {
		return nil, err
	}

	floor := e.cfg.Engine.VectorSimilarityFloor
	var records []*MemoryRecord
	for _, rec := range candidates {
		sim := intelligence.CosineSimilarity(queryVec, rec.Embedding)
		if sim < floor {
			continue
		}
		view := toMemoryRecord(rec)
		view.Relevance = clampScore(sim)
		view.Source = SourceVector
		records = append(records, view)
	}

	return records, nil
}

// mergeResults concatenates source result lists, deduplicating by id
// first and by content hash for id-less records. The first occurrence of
// a record wins, keeping the earlier source's relevance.
func mergeResults(lists ...[]*MemoryRecord) []*MemoryRecord {
	seenIDs := make(map[int64]struct{})
	seenHashes := make(map[string]struct{})

	var merged []*MemoryRecord
	for _, list := range lists {
		for _, rec := range list {
			if rec.ID != 0 {
				if _, ok := seenIDs[rec.ID]; ok {
					continue
				}
				seenIDs[rec.ID] = struct{}{}
				seenHashes[contentHash(rec.Content)] = struct{}{}
				merged = append(merged, rec)
				continue
			}

			hash := contentHash(rec.Content)
			if _, ok := seenHashes[hash]; ok {
				continue
			}
			seenHashes[hash] = struct{}{}
			merged = append(merged, rec)
		}
	}

	return merged
}

// rankResults orders by (relevance, importance) descending and truncates.
func rankResults(records []*MemoryRecord, limit int) []*MemoryRecord {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Relevance != records[j].Relevance {
			return records[i].Relevance > records[j].Relevance
		}
		return records[i].Importance > records[j].Importance
	})

	if len(records) > limit {
		records = records[:limit]
	}
	return records
}

// bumpAccess increments access counts for the returned records in one
// batched update, detached from the caller.
func (e *Engine) bumpAccess(records []*MemoryRecord) {
	var ids []int64
	for _, rec := range records {
		if rec.ID != 0 {
			ids = append(ids, rec.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	e.bumps.Add(1)
	go func() {
		defer e.bumps.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.store.IncrementAccess(ctx, ids); err != nil {
			e.logger.Warn("access count update failed", "error", err)
		}
	}()
}

// hasKindFilter reports whether the kind value narrows a search.
func hasKindFilter(kind string) bool {
	return kind != "" && kind != KindAll
}
