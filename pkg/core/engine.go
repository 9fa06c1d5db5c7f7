package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/recallhq/recall-go/pkg/cache"
	"github.com/recallhq/recall-go/pkg/delegate"
	chromemDelegate "github.com/recallhq/recall-go/pkg/delegate/chromem"
	restDelegate "github.com/recallhq/recall-go/pkg/delegate/rest"
	"github.com/recallhq/recall-go/pkg/embedder"
	openaiEmbedder "github.com/recallhq/recall-go/pkg/embedder/openai"
	"github.com/recallhq/recall-go/pkg/intelligence"
	"github.com/recallhq/recall-go/pkg/storage"
	mysqlStore "github.com/recallhq/recall-go/pkg/storage/mysql"
	postgresStore "github.com/recallhq/recall-go/pkg/storage/postgres"
	sqliteStore "github.com/recallhq/recall-go/pkg/storage/sqlite"
)

// Engine is the memory engine. It owns the durable store, the hot cache,
// the optional embedding and delegate providers, and the in-memory
// content-hash set used for save deduplication.
//
// The engine is safe for concurrent use. Reads run concurrently; writes
// rely on the store's single-row atomicity plus the unique constraint on
// (owner, content_hash) as the dedup backstop under racing saves.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	engine, _ := core.New(config)
//	defer engine.Close()
//
//	id, _ := engine.Save(ctx, "用户偏好: theme=dark",
//	    core.WithKind(core.KindUser),
//	    core.WithOwner("u1"),
//	    core.WithMetadata(map[string]interface{}{"type": "preference"}),
//	)
type Engine struct {
	cfg      *Config
	store    storage.Store
	cache    *cache.HotCache
	embedder embedder.Provider
	delegate delegate.Provider
	scorer   *intelligence.Scorer
	node     *snowflake.Node
	logger   *slog.Logger

	// hashMu guards hashes. Never held across I/O.
	hashMu sync.RWMutex
	hashes map[string]struct{}

	// bumps tracks detached access-count goroutines so Close can drain
	// them.
	bumps sync.WaitGroup

	janitorMu   sync.Mutex
	janitorStop chan struct{}
	janitorBusy atomic.Bool

	closeMu sync.Mutex
	closed  bool
}

// EngineOption customizes engine construction, mainly to inject
// pre-built providers.
type EngineOption func(*Engine)

// WithStore injects a pre-built durable store, bypassing Config.Store.
func WithStore(store storage.Store) EngineOption {
	return func(e *Engine) {
		e.store = store
	}
}

// WithEmbedder injects a pre-built embedding provider.
func WithEmbedder(provider embedder.Provider) EngineOption {
	return func(e *Engine) {
		e.embedder = provider
	}
}

// WithDelegate injects a pre-built delegate provider.
func WithDelegate(provider delegate.Provider) EngineOption {
	return func(e *Engine) {
		e.delegate = provider
	}
}

// WithLogger sets the engine's logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates a memory engine from the configuration.
//
// Construction builds the durable store, the optional embedding and
// delegate providers, loads the live content-hash set, and warms the hot
// cache from the store's most important rows. The background janitor is
// not started; call StartJanitor or Cleanup explicitly.
func New(cfg *Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Engine.applyDefaults()

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, NewEngineError("New", err)
	}

	e := &Engine{
		cfg:    cfg,
		cache:  cache.New(cfg.Engine.CacheAdmissionThreshold, cfg.Engine.CacheCapacity),
		scorer: intelligence.NewScorer(),
		node:   node,
		hashes: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	if e.store == nil {
		store, err := initStore(cfg.Store)
		if err != nil {
			return nil, err
		}
		e.store = store
	}
	if e.embedder == nil && cfg.Embedder != nil {
		provider, err := initEmbedder(cfg.Embedder)
		if err != nil {
			_ = e.store.Close()
			return nil, err
		}
		e.embedder = provider
	}
	if e.delegate == nil && cfg.Delegate != nil {
		provider, err := initDelegate(cfg.Delegate, e.embedder)
		if err != nil {
			_ = e.store.Close()
			return nil, err
		}
		e.delegate = provider
	}

	ctx := context.Background()
	if err := e.rebuildHashes(ctx); err != nil {
		if e.delegate != nil {
			_ = e.delegate.Close()
		}
		if e.embedder != nil {
			_ = e.embedder.Close()
		}
		_ = e.store.Close()
		return nil, NewEngineError("New", err)
	}
	if _, err := e.rebuildCache(ctx); err != nil {
		e.logger.Warn("cache warmup failed", "error", err)
	}

	return e, nil
}

// initStore builds the durable store from configuration.
func initStore(cfg StoreConfig) (storage.Store, error) {
	switch cfg.Provider {
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath: getString(cfg.Config, "db_path", "./recall.db"),
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:     getString(cfg.Config, "host", "localhost"),
			Port:     getInt(cfg.Config, "port", 5432),
			User:     getString(cfg.Config, "user", "postgres"),
			Password: getString(cfg.Config, "password", ""),
			DBName:   getString(cfg.Config, "db_name", "recall"),
			SSLMode:  getString(cfg.Config, "ssl_mode", "disable"),
		})
	case "mysql":
		return mysqlStore.NewClient(&mysqlStore.Config{
			Host:     getString(cfg.Config, "host", "127.0.0.1"),
			Port:     getInt(cfg.Config, "port", 3306),
			User:     getString(cfg.Config, "user", "root"),
			Password: getString(cfg.Config, "password", ""),
			DBName:   getString(cfg.Config, "db_name", "recall"),
		})
	default:
		return nil, NewEngineError("initStore",
			fmt.Errorf("%w: unknown store provider %q", ErrInvalidConfig, cfg.Provider))
	}
}

// initEmbedder builds the embedding provider from configuration.
func initEmbedder(cfg *EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, NewEngineError("initEmbedder",
			fmt.Errorf("%w: unknown embedder provider %q", ErrInvalidConfig, cfg.Provider))
	}
}

// initDelegate builds the delegate provider from configuration.
func initDelegate(cfg *DelegateConfig, emb embedder.Provider) (delegate.Provider, error) {
	switch cfg.Provider {
	case "chromem":
		return chromemDelegate.NewClient(&chromemDelegate.Config{
			Path:     cfg.Path,
			Embedder: emb,
		})
	case "rest":
		return restDelegate.NewClient(&restDelegate.Config{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
		})
	default:
		return nil, NewEngineError("initDelegate",
			fmt.Errorf("%w: unknown delegate provider %q", ErrInvalidConfig, cfg.Provider))
	}
}

// Save stores one memory and returns its id.
//
// Saving identical (owner, content) twice is idempotent: the second call
// returns the first record's id and leaves its metadata untouched (no
// merge). When no importance is supplied it is computed from the content
// and the metadata "type" field. Embedding and delegate mirroring are
// best-effort; only the durable insert can fail the call.
func (e *Engine) Save(ctx context.Context, content string, opts ...SaveOption) (int64, error) {
	if err := e.checkClosed("Save"); err != nil {
		return 0, err
	}
	if strings.TrimSpace(content) == "" {
		return 0, NewEngineError("Save", ErrInvalidInput)
	}

	saveOpts := e.applySaveOptions(opts)
	hash := contentHash(content)
	key := hashKey(saveOpts.Owner, hash)

	// Fast path: the live-hash set says this content already exists.
	if e.hasHash(key) {
		existing, err := e.store.GetByHash(ctx, saveOpts.Owner, hash)
		switch {
		case err == nil && !isExpired(existing, time.Now()):
			return existing.ID, nil
		case err == nil:
			// The previous record expired but still holds the unique
			// constraint; evict it so the fresh save can land.
			if err := e.evictExpiredRow(ctx, existing); err != nil {
				return 0, NewEngineError("Save", err)
			}
		case errors.Is(err, storage.ErrNotFound):
			// Stale set entry: the row is gone, fall through to insert.
			e.dropHash(key)
		default:
			return 0, NewEngineError("Save", err)
		}
	}

	importance := 0.0
	if saveOpts.Importance != nil {
		importance = clampScore(*saveOpts.Importance)
	} else {
		importance = e.scorer.Score(content, metadataType(saveOpts.Metadata))
	}

	var embedding []float64
	if e.embedder != nil {
		vec, err := e.embedder.Embed(ctx, content)
		if err != nil {
			e.logger.Warn("embedding failed, saving without vector",
				"owner", saveOpts.Owner, "error", err)
		} else {
			embedding = vec
		}
	}

	rec := &storage.Record{
		ID:          e.node.Generate().Int64(),
		Kind:        saveOpts.Kind,
		Content:     content,
		Metadata:    saveOpts.Metadata,
		Embedding:   embedding,
		Importance:  importance,
		Owner:       saveOpts.Owner,
		ContentHash: hash,
	}
	if saveOpts.TTLDays > 0 {
		expires := time.Now().Add(time.Duration(saveOpts.TTLDays) * 24 * time.Hour)
		rec.ExpiresAt = &expires
	}

	adopted, err := e.insertDeduped(ctx, rec, key)
	if err != nil {
		return 0, NewEngineError("Save", err)
	}
	if adopted != 0 {
		return adopted, nil
	}
	e.putHash(key)

	e.mirrorToDelegate(ctx, rec)

	e.cache.Admit(cache.Entry{
		ID:         rec.ID,
		Kind:       rec.Kind,
		Owner:      rec.Owner,
		Content:    rec.Content,
		Metadata:   rec.Metadata,
		Importance: rec.Importance,
		ExpiresAt:  rec.ExpiresAt,
	})

	return rec.ID, nil
}

// insertDeduped inserts rec, resolving (owner, content_hash) unique
// constraint collisions. A collision with a live row adopts that row and
// returns its id; a collision with an expired row evicts the dead row and
// retries the insert once.
func (e *Engine) insertDeduped(ctx context.Context, rec *storage.Record, key string) (int64, error) {
	for attempt := 0; attempt < 2; attempt++ {
		err := e.store.Insert(ctx, rec)
		if err == nil {
			return 0, nil
		}
		if !errors.Is(err, storage.ErrDuplicate) {
			return 0, err
		}

		existing, getErr := e.store.GetByHash(ctx, rec.Owner, rec.ContentHash)
		if getErr != nil {
			if errors.Is(getErr, storage.ErrNotFound) {
				// The colliding row vanished between insert and read;
				// loop to try the insert again.
				continue
			}
			return 0, getErr
		}
		if !isExpired(existing, time.Now()) {
			// A racing save won the constraint; adopt its row.
			e.putHash(key)
			return existing.ID, nil
		}
		if err := e.evictExpiredRow(ctx, existing); err != nil {
			return 0, err
		}
	}

	return 0, fmt.Errorf("insert: persistent duplicate for owner %q", rec.Owner)
}

// evictExpiredRow hard-deletes an expired record that still occupies its
// (owner, content_hash) unique slot, along with its hash-set and cache
// entries. The janitor normally does this; the save path does it on
// demand when fresh content collides with a dead row.
func (e *Engine) evictExpiredRow(ctx context.Context, rec *storage.Record) error {
	if err := e.store.Delete(ctx, rec.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	e.dropHash(hashKey(rec.Owner, rec.ContentHash))
	e.cache.Remove(rec.Kind, rec.ID)
	return nil
}

// mirrorToDelegate forwards a saved record to the delegate provider and
// persists the id mapping. Failures are logged, never propagated; the
// durable row is already authoritative.
func (e *Engine) mirrorToDelegate(ctx context.Context, rec *storage.Record) {
	if e.delegate == nil {
		return
	}

	delegateID, err := e.delegate.Add(ctx, rec.Content, rec.Owner, rec.Metadata)
	if err != nil {
		e.logger.Warn("delegate mirror failed", "id", rec.ID, "error", err)
		return
	}

	mapping := &storage.DelegateMapping{
		ID:         e.node.Generate().Int64(),
		LocalID:    rec.ID,
		DelegateID: delegateID,
	}
	if err := e.store.InsertMapping(ctx, mapping); err != nil {
		e.logger.Warn("delegate mapping insert failed", "id", rec.ID, "error", err)
	}
}

// Get retrieves one memory by id. Expired records return ErrNotFound.
func (e *Engine) Get(ctx context.Context, id int64) (*MemoryRecord, error) {
	if err := e.checkClosed("Get"); err != nil {
		return nil, err
	}

	rec, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, NewEngineError("Get", ErrNotFound)
		}
		return nil, NewEngineError("Get", err)
	}
	if isExpired(rec, time.Now()) {
		return nil, NewEngineError("Get", ErrNotFound)
	}

	return toMemoryRecord(rec), nil
}

// Update replaces a record's metadata and/or importance. Content and
// content hash are immutable. Returns false with a nil error when the id
// does not exist.
//
// Metadata is replaced wholesale, not merged; callers evolving counters
// inside metadata own the read-modify-write cycle.
func (e *Engine) Update(ctx context.Context, id int64, metadata map[string]interface{}, importance *float64) (bool, error) {
	if err := e.checkClosed("Update"); err != nil {
		return false, err
	}
	if metadata == nil && importance == nil {
		return false, NewEngineError("Update", ErrInvalidInput)
	}
	if importance != nil {
		clamped := clampScore(*importance)
		importance = &clamped
	}

	updated, err := e.store.Update(ctx, id, metadata, importance)
	if err != nil {
		return false, NewEngineError("Update", err)
	}
	if !updated {
		return false, nil
	}

	// Keep the cache consistent with the new score. Expired rows are
	// never re-admitted; Admit refuses them and the stale entry is
	// dropped.
	rec, err := e.store.Get(ctx, id)
	if err == nil {
		admitted := false
		if rec.Importance >= e.cfg.Engine.CacheAdmissionThreshold {
			admitted = e.cache.Admit(cache.Entry{
				ID:         rec.ID,
				Kind:       rec.Kind,
				Owner:      rec.Owner,
				Content:    rec.Content,
				Metadata:   rec.Metadata,
				Importance: rec.Importance,
				ExpiresAt:  rec.ExpiresAt,
			})
		}
		if !admitted {
			e.cache.Remove(rec.Kind, rec.ID)
		}
	}

	return true, nil
}

// Delete removes one memory, its cache entry, and its hash-set entry.
// The delegate mirror, if any, is cleaned up by the janitor's mapping
// prune. Returns ErrNotFound if the id does not exist.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	if err := e.checkClosed("Delete"); err != nil {
		return err
	}

	rec, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NewEngineError("Delete", ErrNotFound)
		}
		return NewEngineError("Delete", err)
	}

	if err := e.store.Delete(ctx, id); err != nil {
		return NewEngineError("Delete", err)
	}

	e.dropHash(hashKey(rec.Owner, rec.ContentHash))
	e.cache.Remove(rec.Kind, id)

	return nil
}

// PurgeOwner removes every record belonging to the owner from the store,
// the cache, and the hash set. Used for GDPR-style erasure. Returns the
// number of records removed.
func (e *Engine) PurgeOwner(ctx context.Context, owner string) (int64, error) {
	if err := e.checkClosed("PurgeOwner"); err != nil {
		return 0, err
	}

	count, err := e.store.PurgeOwner(ctx, owner)
	if err != nil {
		return 0, NewEngineError("PurgeOwner", err)
	}

	e.cache.RemoveOwner(owner)

	prefix := owner + hashKeySep
	e.hashMu.Lock()
	for key := range e.hashes {
		if strings.HasPrefix(key, prefix) {
			delete(e.hashes, key)
		}
	}
	e.hashMu.Unlock()

	return count, nil
}

// Stats returns aggregate statistics for one owner. An empty owner means
// the engine's default owner.
func (e *Engine) Stats(ctx context.Context, owner string) (*Stats, error) {
	if err := e.checkClosed("Stats"); err != nil {
		return nil, err
	}
	if owner == "" {
		owner = e.cfg.Engine.DefaultOwner
	}

	storeStats, err := e.store.Stats(ctx, owner)
	if err != nil {
		return nil, NewEngineError("Stats", err)
	}

	size, err := e.store.SizeBytes(ctx)
	if err != nil {
		e.logger.Warn("store size lookup failed", "error", err)
	}

	return &Stats{
		CountsByKind:     storeStats.CountsByKind,
		TotalCount:       storeStats.TotalCount,
		AvgImportance:    storeStats.AvgImportance,
		CacheOccupancy:   e.cache.Occupancy(),
		DelegateEnabled:  e.delegate != nil,
		EmbeddingEnabled: e.embedder != nil,
		StoreSizeBytes:   size,
	}, nil
}

// SaveSessionMessage appends one transcript turn. Messages are not
// deduplicated and expire with the session retention window.
func (e *Engine) SaveSessionMessage(ctx context.Context, sessionID, role, content string, metadata map[string]interface{}) (int64, error) {
	if err := e.checkClosed("SaveSessionMessage"); err != nil {
		return 0, err
	}
	if sessionID == "" || content == "" {
		return 0, NewEngineError("SaveSessionMessage", ErrInvalidInput)
	}

	msg := &storage.SessionMessage{
		ID:        e.node.Generate().Int64(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		Timestamp: time.Now(),
	}
	if err := e.store.InsertSessionMessage(ctx, msg); err != nil {
		return 0, NewEngineError("SaveSessionMessage", err)
	}

	return msg.ID, nil
}

// SessionContext returns the session's most recent messages in
// chronological order. A non-positive limit uses the default of 20.
func (e *Engine) SessionContext(ctx context.Context, sessionID string, limit int) ([]*SessionMessage, error) {
	if err := e.checkClosed("SessionContext"); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, NewEngineError("SessionContext", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = defaultSessionContextLimit
	}

	msgs, err := e.store.SessionMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, NewEngineError("SessionContext", err)
	}

	out := make([]*SessionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = &SessionMessage{
			ID:        m.ID,
			SessionID: m.SessionID,
			Role:      m.Role,
			Content:   m.Content,
			Metadata:  m.Metadata,
			Timestamp: m.Timestamp,
		}
	}

	return out, nil
}

// Close stops the janitor, drains in-flight access-count updates, and
// closes the providers and the store. Close is idempotent.
func (e *Engine) Close() error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	e.StopJanitor()
	e.bumps.Wait()

	var firstErr error
	if e.delegate != nil {
		if err := e.delegate.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.embedder != nil {
		if err := e.embedder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return NewEngineError("Close", firstErr)
}

// checkClosed returns ErrEngineClosed once Close has run.
func (e *Engine) checkClosed(op string) error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	if e.closed {
		return NewEngineError(op, ErrEngineClosed)
	}
	return nil
}

// hasHash reports membership in the live-hash set.
func (e *Engine) hasHash(key string) bool {
	e.hashMu.RLock()
	_, ok := e.hashes[key]
	e.hashMu.RUnlock()
	return ok
}

func (e *Engine) putHash(key string) {
	e.hashMu.Lock()
	e.hashes[key] = struct{}{}
	e.hashMu.Unlock()
}

func (e *Engine) dropHash(key string) {
	e.hashMu.Lock()
	delete(e.hashes, key)
	e.hashMu.Unlock()
}

// rebuildHashes reloads the live-hash set from the store.
func (e *Engine) rebuildHashes(ctx context.Context) error {
	hashes, err := e.store.LiveHashes(ctx)
	if err != nil {
		return err
	}

	set := make(map[string]struct{}, len(hashes))
	for _, oh := range hashes {
		set[hashKey(oh.Owner, oh.ContentHash)] = struct{}{}
	}

	e.hashMu.Lock()
	e.hashes = set
	e.hashMu.Unlock()

	return nil
}

// rebuildCache repopulates the hot cache from the store's most important
// live rows and returns the resulting entry count.
func (e *Engine) rebuildCache(ctx context.Context) (int, error) {
	rows, err := e.store.TopImportant(ctx,
		e.cfg.Engine.CacheAdmissionThreshold, e.cfg.Engine.CacheCapacity)
	if err != nil {
		return 0, err
	}

	entries := make([]cache.Entry, 0, len(rows))
	for _, rec := range rows {
		entries = append(entries, cache.Entry{
			ID:         rec.ID,
			Kind:       rec.Kind,
			Owner:      rec.Owner,
			Content:    rec.Content,
			Metadata:   rec.Metadata,
			Importance: rec.Importance,
			ExpiresAt:  rec.ExpiresAt,
		})
	}
	e.cache.Rebuild(entries)

	return e.cache.Len(), nil
}

// getString reads a string from a provider config map.
func getString(cfg map[string]interface{}, key, fallback string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// getInt reads an int from a provider config map. JSON decoding produces
// float64, so both are accepted.
func getInt(cfg map[string]interface{}, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}
