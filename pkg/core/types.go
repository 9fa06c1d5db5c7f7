// Package core provides the memory engine: durable storage with
// content-hash deduplication, importance scoring, a tiered hot cache,
// hybrid multi-source search, and background expiry.
package core

import "time"

// Memory kinds partition the search and cache space. The set is open;
// callers may introduce their own kinds.
const (
	// KindUser holds durable facts about the user (preferences, goals).
	KindUser = "user"

	// KindSession holds per-conversation memories (summaries, key turns).
	KindSession = "session"

	// KindAgent holds the assistant's own operational memory (skills,
	// error patterns).
	KindAgent = "agent"

	// KindVision holds visual perception events.
	KindVision = "vision"

	// KindInteraction holds raw interaction records.
	KindInteraction = "interaction"

	// KindAll is the search filter matching every kind.
	KindAll = "all"
)

// Search result sources.
const (
	SourceDelegate = "delegate"
	SourceCache    = "cache"
	SourceKeyword  = "keyword"
	SourceVector   = "vector"
)

// MemoryRecord is the view of one memory returned by engine operations.
//
// Relevance and Source are populated only on records returned by Search.
// A record surfaced directly from the delegate provider (no local mapping)
// has ID zero.
type MemoryRecord struct {
	// ID is the engine-assigned record identifier.
	ID int64 `json:"id"`

	// Kind is the memory kind (see Kind constants).
	Kind string `json:"kind"`

	// Content is the memory text. Immutable after creation.
	Content string `json:"content"`

	// Metadata is the open key/value document attached at save time.
	// The engine passes it through without validation.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Importance is the record's score in [0.0, 1.0].
	Importance float64 `json:"importance"`

	// AccessCount is the number of times this record appeared in search
	// results.
	AccessCount int64 `json:"access_count"`

	// Owner is the logical partition key.
	Owner string `json:"owner"`

	// CreatedAt is when the record was saved.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record was last modified.
	UpdatedAt time.Time `json:"updated_at"`

	// ExpiresAt is the expiry deadline, nil for permanent records.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Relevance is the search relevance score in [0.0, 1.0].
	Relevance float64 `json:"relevance,omitempty"`

	// Source names the search source that produced this record.
	Source string `json:"source,omitempty"`
}

// SessionMessage is one turn of a conversation transcript. Messages are
// append-only, never deduplicated, and removed by the janitor after the
// retention window.
type SessionMessage struct {
	// ID is the engine-assigned message identifier.
	ID int64 `json:"id"`

	// SessionID groups messages belonging to one conversation.
	SessionID string `json:"session_id"`

	// Role is the speaker ("user", "assistant", "system").
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// Metadata is optional per-message context.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Timestamp is when the message was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// Stats summarizes the state of one owner's memories.
type Stats struct {
	// CountsByKind is the number of live records per kind.
	CountsByKind map[string]int64 `json:"counts_by_kind"`

	// TotalCount is the total number of live records.
	TotalCount int64 `json:"total_count"`

	// AvgImportance is the mean importance over live records.
	AvgImportance float64 `json:"avg_importance"`

	// CacheOccupancy is the number of cached entries per kind, across
	// all owners.
	CacheOccupancy map[string]int `json:"cache_occupancy"`

	// DelegateEnabled reports whether a delegate provider is configured.
	DelegateEnabled bool `json:"delegate_enabled"`

	// EmbeddingEnabled reports whether an embedding provider is configured.
	EmbeddingEnabled bool `json:"embedding_enabled"`

	// StoreSizeBytes is the durable store's reported size.
	StoreSizeBytes int64 `json:"store_size_bytes"`
}

// CleanupReport summarizes one janitor run. Each counter covers one
// best-effort step; a step that failed leaves its counter at zero.
type CleanupReport struct {
	// ExpiredRecords is the number of expired memory rows deleted.
	ExpiredRecords int64 `json:"expired_records"`

	// SessionMessages is the number of transcript rows past retention
	// deleted.
	SessionMessages int64 `json:"session_messages"`

	// OrphanedMappings is the number of delegate mappings pruned.
	OrphanedMappings int64 `json:"orphaned_mappings"`

	// LiveHashes is the size of the rebuilt content-hash set.
	LiveHashes int `json:"live_hashes"`

	// CacheEntries is the size of the rebuilt hot cache.
	CacheEntries int `json:"cache_entries"`
}
