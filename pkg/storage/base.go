// Package storage provides interfaces and types for durable memory storage backends.
//
// It defines the Store interface that all storage implementations must satisfy,
// along with the record types persisted by the memory engine. A Store is the sole
// source of truth across restarts; caches and delegate mirrors are accelerators
// rebuilt from it.
package storage

import (
	"context"
	"errors"
	"time"
)

// Predefined errors returned by Store implementations.
var (
	// ErrNotFound indicates that a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate indicates that an insert violated the (owner, content_hash)
	// unique constraint. Callers racing past the dedup check must catch this
	// and fall back to reading the existing record.
	ErrDuplicate = errors.New("duplicate record")
)

// Record represents a memory record as persisted in the durable store.
//
// This type is defined in the storage package to avoid circular dependencies
// with the core package. It mirrors the core.MemoryRecord structure.
type Record struct {
	// ID is the unique identifier of the record.
	ID int64

	// Kind is the coarse memory category (user, session, agent, vision, interaction).
	Kind string

	// Content is the text payload matched by keyword and vector search.
	Content string

	// Metadata contains additional structured information. The store never
	// validates its shape; it is serialized as a JSON document.
	Metadata map[string]interface{}

	// Embedding is the vector embedding of Content, nil when no embedding
	// provider was configured at save time.
	Embedding []float64

	// Importance is the record's importance score in [0,1].
	Importance float64

	// AccessCount is the number of times the record has been returned by search.
	AccessCount int64

	// Owner is the logical partition key scoping the record.
	Owner string

	// ContentHash is the deterministic digest of Content. At most one live
	// record may exist per (Owner, ContentHash).
	ContentHash string

	// CreatedAt is when the record was created.
	CreatedAt time.Time

	// UpdatedAt is when the record was last updated.
	UpdatedAt time.Time

	// ExpiresAt is when the record expires, nil for records that never expire.
	ExpiresAt *time.Time

	// Score is the transient relevance score from search operations.
	Score float64
}

// SessionMessage is an append-only conversation turn belonging to a session.
// Messages are never deduplicated; retention is time-boxed.
type SessionMessage struct {
	// ID is the unique identifier of the message.
	ID int64

	// SessionID groups messages into one conversation.
	SessionID string

	// Role is the speaker role (user, assistant, system).
	Role string

	// Content is the message text.
	Content string

	// Metadata contains additional structured information.
	Metadata map[string]interface{}

	// Timestamp is when the message was recorded.
	Timestamp time.Time
}

// DelegateMapping links a local record to its mirrored copy in the external
// delegate search provider.
type DelegateMapping struct {
	// ID is the unique identifier of the mapping row.
	ID int64

	// LocalID is the id of the local memory record.
	LocalID int64

	// DelegateID is the id assigned by the delegate provider.
	DelegateID string

	// CreatedAt is when the mapping was created.
	CreatedAt time.Time
}

// OwnerHash identifies one live (owner, content_hash) pair. Used to rebuild
// the engine's in-memory dedup set.
type OwnerHash struct {
	Owner       string
	ContentHash string
}

// SearchOptions contains options for keyword search.
type SearchOptions struct {
	// Owner scopes the search to one owner partition.
	Owner string

	// Kind filters results to one memory kind. Empty or "all" matches every kind.
	Kind string

	// Query is matched as a case-sensitive substring of Content.
	Query string

	// Limit caps the number of results.
	Limit int
}

// CandidateOptions contains options for loading vector search candidates.
type CandidateOptions struct {
	// Owner scopes the scan to one owner partition.
	Owner string

	// Kind filters candidates to one memory kind. Empty or "all" matches every kind.
	Kind string

	// Limit caps the number of candidate rows, taken in importance order.
	Limit int
}

// Stats contains aggregate statistics for one owner partition.
type Stats struct {
	// CountsByKind maps each memory kind to its live record count.
	CountsByKind map[string]int64

	// TotalCount is the total number of live records.
	TotalCount int64

	// AvgImportance is the mean importance across live records, 0 when empty.
	AvgImportance float64
}

// Store defines the interface for durable memory storage backends.
//
// All storage implementations (SQLite, PostgreSQL, MySQL) must implement this
// interface. Methods that scope by owner treat the owner as an exact match.
// "Live" means not expired as of the query time.
type Store interface {
	// Insert persists a new memory record in one transaction.
	// Returns ErrDuplicate if a record with the same (owner, content_hash)
	// already exists.
	Insert(ctx context.Context, rec *Record) error

	// Get retrieves a record by id. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, id int64) (*Record, error)

	// GetByHash retrieves the record with the given (owner, content_hash),
	// whether or not it has expired (expired rows still hold the hash until
	// the janitor removes them). Returns ErrNotFound if no such record exists.
	GetByHash(ctx context.Context, owner, contentHash string) (*Record, error)

	// Search performs a case-sensitive substring keyword search over live records, ordered by
	// (importance, access_count) descending and capped at opts.Limit.
	Search(ctx context.Context, opts *SearchOptions) ([]*Record, error)

	// EmbeddedCandidates returns live records that carry an embedding, ordered
	// by importance descending and capped at opts.Limit. Similarity scoring
	// happens in the caller.
	EmbeddedCandidates(ctx context.Context, opts *CandidateOptions) ([]*Record, error)

	// Update replaces a record's metadata document and/or importance score.
	// Content and content_hash are immutable. A nil metadata leaves the stored
	// document unchanged; a nil importance leaves the score unchanged.
	// Returns false (and no error) if the record does not exist.
	Update(ctx context.Context, id int64, metadata map[string]interface{}, importance *float64) (bool, error)

	// IncrementAccess bumps access_count by one and touches updated_at for each
	// given id in a single batch.
	IncrementAccess(ctx context.Context, ids []int64) error

	// TopImportant returns live records with importance >= minImportance,
	// ordered by (importance, access_count) descending and capped at limit.
	// Used to rebuild the hot cache.
	TopImportant(ctx context.Context, minImportance float64, limit int) ([]*Record, error)

	// LiveHashes returns the (owner, content_hash) pairs of all live records.
	LiveHashes(ctx context.Context) ([]OwnerHash, error)

	// Delete removes a record by id. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, id int64) error

	// PurgeOwner removes every record belonging to the owner and returns
	// the number of deleted rows.
	PurgeOwner(ctx context.Context, owner string) (int64, error)

	// DeleteExpired hard-deletes records with expires_at before now and
	// returns the number of deleted rows.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// InsertSessionMessage appends one session message.
	InsertSessionMessage(ctx context.Context, msg *SessionMessage) error

	// SessionMessages returns the most recent messages of a session in
	// chronological order, capped at limit.
	SessionMessages(ctx context.Context, sessionID string, limit int) ([]*SessionMessage, error)

	// DeleteSessionMessagesBefore removes messages older than cutoff and
	// returns the number of deleted rows.
	DeleteSessionMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// InsertMapping persists a local-to-delegate id mapping.
	InsertMapping(ctx context.Context, mapping *DelegateMapping) error

	// GetByDelegateID resolves a delegate search hit back to the local record.
	// Returns ErrNotFound if no mapping or record exists.
	GetByDelegateID(ctx context.Context, delegateID string) (*Record, error)

	// OrphanedMappings returns mappings whose local record no longer
	// exists. The janitor deletes their delegate mirrors before pruning.
	OrphanedMappings(ctx context.Context) ([]*DelegateMapping, error)

	// PruneMappings removes mappings whose local record no longer exists and
	// returns the number of deleted rows.
	PruneMappings(ctx context.Context) (int64, error)

	// Stats returns aggregate statistics over live records for one owner.
	Stats(ctx context.Context, owner string) (*Stats, error)

	// SizeBytes reports the approximate on-disk size of the store.
	SizeBytes(ctx context.Context) (int64, error)

	// Close closes the store and releases resources.
	Close() error
}
