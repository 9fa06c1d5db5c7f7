// Package sqlite provides the SQLite implementation of the durable memory store.
//
// SQLite is a lightweight, file-based database suitable for local development
// and single-process assistants. Embeddings and metadata are stored as JSON
// strings in TEXT fields; vector similarity is computed in the engine after
// loading candidate rows.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/recallhq/recall-go/pkg/storage"
)

// Client implements storage.Store using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB

	// dbPath is the path to the database file, used for size reporting.
	dbPath string
}

// Config contains configuration for creating a SQLite store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string
}

// NewClient creates a new SQLite store client.
//
// Parameters:
//   - cfg: Configuration containing the database file path
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if database connection or schema creation fails
func NewClient(cfg *Config) (*Client, error) {
	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	client := &Client{
		db:     db,
		dbPath: cfg.DBPath,
	}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

// initTables initializes the database schema.
//
// The UNIQUE(owner, content_hash) constraint is the correctness backstop for
// concurrent saves racing past the engine's dedup check.
func (c *Client) initTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY,
			kind TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			embedding TEXT,
			importance REAL NOT NULL DEFAULT 0.5,
			access_count INTEGER NOT NULL DEFAULT 0,
			owner TEXT NOT NULL DEFAULT 'default',
			content_hash TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME,
			UNIQUE(owner, content_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_hash ON memories(content_hash)`,
		`CREATE TABLE IF NOT EXISTS session_messages (
			id INTEGER PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages(session_id)`,
		`CREATE TABLE IF NOT EXISTS delegate_mappings (
			id INTEGER PRIMARY KEY,
			local_id INTEGER NOT NULL,
			delegate_id TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_delegate_mappings_delegate ON delegate_mappings(delegate_id)`,
	}

	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}

	return nil
}

// Insert persists a memory record.
func (c *Client) Insert(ctx context.Context, rec *storage.Record) error {
	metadataJSON, embeddingJSON, err := encodeDocs(rec.Metadata, rec.Embedding)
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}

	now := time.Now()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO memories
		(id, kind, content, metadata, embedding, importance, access_count, owner, content_hash, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Kind,
		rec.Content,
		metadataJSON,
		embeddingJSON,
		rec.Importance,
		rec.AccessCount,
		rec.Owner,
		rec.ContentHash,
		now,
		now,
		rec.ExpiresAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicate
		}
		return fmt.Errorf("Insert: %w", err)
	}

	return nil
}

// Get retrieves a record by id.
func (c *Client) Get(ctx context.Context, id int64) (*storage.Record, error) {
	row := c.db.QueryRowContext(ctx, selectColumns+` FROM memories WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}

	return rec, nil
}

// GetByHash retrieves the record with the given (owner, content_hash).
func (c *Client) GetByHash(ctx context.Context, owner, contentHash string) (*storage.Record, error) {
	row := c.db.QueryRowContext(ctx,
		selectColumns+` FROM memories WHERE owner = ? AND content_hash = ?`,
		owner, contentHash,
	)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetByHash: %w", err)
	}

	return rec, nil
}

// Search performs a case-sensitive substring keyword search over live
// records. instr avoids LIKE's wildcard interpretation and its
// ASCII-case folding, keeping the predicate identical to the cache's
// in-memory match.
func (c *Client) Search(ctx context.Context, opts *storage.SearchOptions) ([]*storage.Record, error) {
	query := selectColumns + ` FROM memories
		WHERE owner = ? AND instr(content, ?) > 0
		AND (expires_at IS NULL OR expires_at > ?)`
	args := []interface{}{opts.Owner, opts.Query, time.Now()}

	if hasKindFilter(opts.Kind) {
		query += ` AND kind = ?`
		args = append(args, opts.Kind)
	}

	query += ` ORDER BY importance DESC, access_count DESC LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectRecords(rows)
}

// EmbeddedCandidates returns live records carrying an embedding, most
// important first.
func (c *Client) EmbeddedCandidates(ctx context.Context, opts *storage.CandidateOptions) ([]*storage.Record, error) {
	query := selectColumns + ` FROM memories
		WHERE owner = ? AND embedding IS NOT NULL
		AND (expires_at IS NULL OR expires_at > ?)`
	args := []interface{}{opts.Owner, time.Now()}

	if hasKindFilter(opts.Kind) {
		query += ` AND kind = ?`
		args = append(args, opts.Kind)
	}

	query += ` ORDER BY importance DESC LIMIT ?`
	args = append(args, opts.Limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("EmbeddedCandidates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectRecords(rows)
}

// Update replaces a record's metadata and/or importance.
func (c *Client) Update(ctx context.Context, id int64, metadata map[string]interface{}, importance *float64) (bool, error) {
	set := "updated_at = ?"
	args := []interface{}{time.Now()}

	if metadata != nil {
		metadataJSON, err := json.Marshal(metadata)
		if err != nil {
			return false, fmt.Errorf("Update: %w", err)
		}
		set += ", metadata = ?"
		args = append(args, string(metadataJSON))
	}
	if importance != nil {
		set += ", importance = ?"
		args = append(args, *importance)
	}
	args = append(args, id)

	result, err := c.db.ExecContext(ctx, `UPDATE memories SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("Update: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Update: %w", err)
	}

	return affected > 0, nil
}

// IncrementAccess bumps access_count for each given id in one transaction.
func (c *Client) IncrementAccess(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("IncrementAccess: %w", err)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE memories
			SET access_count = access_count + 1, updated_at = ?
			WHERE id = ?
		`, time.Now(), id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("IncrementAccess: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("IncrementAccess: %w", err)
	}

	return nil
}

// TopImportant returns live records above the importance floor, used to
// rebuild the hot cache.
func (c *Client) TopImportant(ctx context.Context, minImportance float64, limit int) ([]*storage.Record, error) {
	rows, err := c.db.QueryContext(ctx, selectColumns+` FROM memories
		WHERE importance >= ?
		AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY importance DESC, access_count DESC
		LIMIT ?
	`, minImportance, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("TopImportant: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectRecords(rows)
}

// LiveHashes returns the (owner, content_hash) pairs of all live records.
func (c *Client) LiveHashes(ctx context.Context) ([]storage.OwnerHash, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT owner, content_hash FROM memories
		WHERE expires_at IS NULL OR expires_at > ?
	`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("LiveHashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hashes []storage.OwnerHash
	for rows.Next() {
		var oh storage.OwnerHash
		if err := rows.Scan(&oh.Owner, &oh.ContentHash); err != nil {
			return nil, fmt.Errorf("LiveHashes: %w", err)
		}
		hashes = append(hashes, oh)
	}

	return hashes, rows.Err()
}

// Delete removes a record by id.
func (c *Client) Delete(ctx context.Context, id int64) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}

	return nil
}

// PurgeOwner removes every record belonging to the owner.
func (c *Client) PurgeOwner(ctx context.Context, owner string) (int64, error) {
	result, err := c.db.ExecContext(ctx, `DELETE FROM memories WHERE owner = ?`, owner)
	if err != nil {
		return 0, fmt.Errorf("PurgeOwner: %w", err)
	}

	return result.RowsAffected()
}

// DeleteExpired hard-deletes records whose expiry has passed.
func (c *Client) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := c.db.ExecContext(ctx, `
		DELETE FROM memories WHERE expires_at IS NOT NULL AND expires_at < ?
	`, now)
	if err != nil {
		return 0, fmt.Errorf("DeleteExpired: %w", err)
	}

	return result.RowsAffected()
}

// InsertSessionMessage appends one session message.
func (c *Client) InsertSessionMessage(ctx context.Context, msg *storage.SessionMessage) error {
	metadataJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("InsertSessionMessage: %w", err)
	}

	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO session_messages (id, session_id, role, content, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.SessionID, msg.Role, msg.Content, string(metadataJSON), ts)
	if err != nil {
		return fmt.Errorf("InsertSessionMessage: %w", err)
	}

	return nil
}

// SessionMessages returns the most recent messages of a session in
// chronological order.
func (c *Client) SessionMessages(ctx context.Context, sessionID string, limit int) ([]*storage.SessionMessage, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, metadata, timestamp
		FROM session_messages
		WHERE session_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("SessionMessages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*storage.SessionMessage
	for rows.Next() {
		var msg storage.SessionMessage
		var metadataStr sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &metadataStr, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("SessionMessages: %w", err)
		}
		if metadataStr.Valid && metadataStr.String != "" {
			if err := json.Unmarshal([]byte(metadataStr.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("SessionMessages: parse metadata: %w", err)
			}
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows were read newest-first, flip to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// DeleteSessionMessagesBefore removes messages older than cutoff.
func (c *Client) DeleteSessionMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := c.db.ExecContext(ctx, `
		DELETE FROM session_messages WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("DeleteSessionMessagesBefore: %w", err)
	}

	return result.RowsAffected()
}

// InsertMapping persists a local-to-delegate id mapping.
func (c *Client) InsertMapping(ctx context.Context, mapping *storage.DelegateMapping) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO delegate_mappings (id, local_id, delegate_id, created_at)
		VALUES (?, ?, ?, ?)
	`, mapping.ID, mapping.LocalID, mapping.DelegateID, time.Now())
	if err != nil {
		return fmt.Errorf("InsertMapping: %w", err)
	}

	return nil
}

// GetByDelegateID resolves a delegate hit to the local record through the
// mapping table.
func (c *Client) GetByDelegateID(ctx context.Context, delegateID string) (*storage.Record, error) {
	row := c.db.QueryRowContext(ctx, selectPrefixed+` FROM memories m
		JOIN delegate_mappings dm ON m.id = dm.local_id
		WHERE dm.delegate_id = ?
	`, delegateID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetByDelegateID: %w", err)
	}

	return rec, nil
}

// OrphanedMappings returns mappings whose local record no longer exists.
func (c *Client) OrphanedMappings(ctx context.Context) ([]*storage.DelegateMapping, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, local_id, delegate_id, created_at FROM delegate_mappings
		WHERE local_id NOT IN (SELECT id FROM memories)
	`)
	if err != nil {
		return nil, fmt.Errorf("OrphanedMappings: %w", err)
	}
	defer rows.Close()

	var mappings []*storage.DelegateMapping
	for rows.Next() {
		m := &storage.DelegateMapping{}
		if err := rows.Scan(&m.ID, &m.LocalID, &m.DelegateID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("OrphanedMappings: %w", err)
		}
		mappings = append(mappings, m)
	}

	return mappings, rows.Err()
}

// PruneMappings removes mappings whose local record no longer exists.
func (c *Client) PruneMappings(ctx context.Context) (int64, error) {
	result, err := c.db.ExecContext(ctx, `
		DELETE FROM delegate_mappings
		WHERE local_id NOT IN (SELECT id FROM memories)
	`)
	if err != nil {
		return 0, fmt.Errorf("PruneMappings: %w", err)
	}

	return result.RowsAffected()
}

// Stats returns aggregate statistics over live records for one owner.
func (c *Client) Stats(ctx context.Context, owner string) (*storage.Stats, error) {
	stats := &storage.Stats{
		CountsByKind: make(map[string]int64),
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM memories
		WHERE owner = ? AND (expires_at IS NULL OR expires_at > ?)
		GROUP BY kind
	`, owner, time.Now())
	if err != nil {
		return nil, fmt.Errorf("Stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("Stats: %w", err)
		}
		stats.CountsByKind[kind] = count
		stats.TotalCount += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	err = c.db.QueryRowContext(ctx, `
		SELECT AVG(importance) FROM memories
		WHERE owner = ? AND (expires_at IS NULL OR expires_at > ?)
	`, owner, time.Now()).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("Stats: %w", err)
	}
	if avg.Valid {
		stats.AvgImportance = avg.Float64
	}

	return stats, nil
}

// SizeBytes reports the database file size.
func (c *Client) SizeBytes(ctx context.Context) (int64, error) {
	info, err := os.Stat(c.dbPath)
	if err != nil {
		return 0, fmt.Errorf("SizeBytes: %w", err)
	}

	return info.Size(), nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
