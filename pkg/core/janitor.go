package core

import (
	"context"
	"time"
)

// Cleanup runs one janitor pass:
//  1. hard-deletes expired memory records
//  2. hard-deletes session messages past the retention window
//  3. deletes the delegate mirrors of removed records, then prunes
//     their mappings
//  4. rebuilds the live-hash set and the hot cache from the store
//
// Steps are best-effort and independent: a failing step is logged and the
// remaining steps still run. Only one cleanup runs at a time; a call that
// finds another run in progress returns immediately with an empty report.
func (e *Engine) Cleanup(ctx context.Context) (*CleanupReport, error) {
	if err := e.checkClosed("Cleanup"); err != nil {
		return nil, err
	}
	if !e.janitorBusy.CompareAndSwap(false, true) {
		return &CleanupReport{}, nil
	}
	defer e.janitorBusy.Store(false)

	report := &CleanupReport{}
	now := time.Now()

	expired, err := e.store.DeleteExpired(ctx, now)
	if err != nil {
		e.logger.Error("janitor: expired sweep failed", "error", err)
	} else {
		report.ExpiredRecords = expired
	}

	cutoff := now.Add(-e.cfg.Engine.sessionRetention())
	messages, err := e.store.DeleteSessionMessagesBefore(ctx, cutoff)
	if err != nil {
		e.logger.Error("janitor: session retention sweep failed", "error", err)
	} else {
		report.SessionMessages = messages
	}

	// Erase the delegate mirrors of removed records before dropping the
	// mappings that point at them. Best-effort: a failed mirror delete
	// is logged and its mapping is pruned regardless.
	if e.delegate != nil {
		orphans, err := e.store.OrphanedMappings(ctx)
		if err != nil {
			e.logger.Error("janitor: orphaned mapping scan failed", "error", err)
		} else {
			for _, orphan := range orphans {
				if err := e.delegate.Delete(ctx, orphan.DelegateID); err != nil {
					e.logger.Warn("janitor: delegate mirror delete failed",
						"delegate_id", orphan.DelegateID, "error", err)
				}
			}
		}
	}

	mappings, err := e.store.PruneMappings(ctx)
	if err != nil {
		e.logger.Error("janitor: mapping prune failed", "error", err)
	} else {
		report.OrphanedMappings = mappings
	}

	if err := e.rebuildHashes(ctx); err != nil {
		e.logger.Error("janitor: hash rebuild failed", "error", err)
	} else {
		e.hashMu.RLock()
		report.LiveHashes = len(e.hashes)
		e.hashMu.RUnlock()
	}

	entries, err := e.rebuildCache(ctx)
	if err != nil {
		e.logger.Error("janitor: cache rebuild failed", "error", err)
	} else {
		report.CacheEntries = entries
	}

	e.logger.Info("janitor run complete",
		"expired_records", report.ExpiredRecords,
		"session_messages", report.SessionMessages,
		"orphaned_mappings", report.OrphanedMappings,
		"live_hashes", report.LiveHashes,
		"cache_entries", report.CacheEntries,
	)

	return report, nil
}

// StartJanitor launches the background cleanup loop at the configured
// interval. Calling it while a loop is already running is a no-op.
func (e *Engine) StartJanitor() {
	e.janitorMu.Lock()
	defer e.janitorMu.Unlock()
	if e.janitorStop != nil {
		return
	}

	stop := make(chan struct{})
	e.janitorStop = stop

	go func() {
		ticker := time.NewTicker(e.cfg.Engine.janitorInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := e.Cleanup(context.Background()); err != nil {
					e.logger.Error("janitor run failed", "error", err)
				}
			case <-stop:
				return
			}
		}
	}()
}

// StopJanitor stops the background cleanup loop. Safe to call when no
// loop is running.
func (e *Engine) StopJanitor() {
	e.janitorMu.Lock()
	defer e.janitorMu.Unlock()
	if e.janitorStop != nil {
		close(e.janitorStop)
		e.janitorStop = nil
	}
}
