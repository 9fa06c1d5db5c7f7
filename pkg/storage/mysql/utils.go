package mysql

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/recallhq/recall-go/pkg/storage"
)

const (
	selectColumns = `SELECT id, kind, content, metadata, embedding, importance, access_count, owner, content_hash, created_at, updated_at, expires_at`

	selectPrefixed = `SELECT m.id, m.kind, m.content, m.metadata, m.embedding, m.importance, m.access_count, m.owner, m.content_hash, m.created_at, m.updated_at, m.expires_at`
)

// isUniqueViolation reports whether err is a duplicate-key error (1062).
func isUniqueViolation(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// hasKindFilter reports whether the kind value narrows the query.
func hasKindFilter(kind string) bool {
	return kind != "" && kind != "all"
}

// encodeDocs serializes metadata and embedding to their column values.
// A nil embedding produces a NULL column so it is excluded from vector scans.
func encodeDocs(metadata map[string]interface{}, embedding []float64) (string, interface{}, error) {
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", nil, err
	}

	if embedding == nil {
		return string(metadataJSON), nil, nil
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return "", nil, err
	}

	return string(metadataJSON), string(embeddingJSON), nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a memory record from a database row or rows.
func scanRecord(scanner rowScanner) (*storage.Record, error) {
	var rec storage.Record
	var metadataStr sql.NullString
	var embeddingStr sql.NullString
	var expiresAt sql.NullTime

	err := scanner.Scan(
		&rec.ID,
		&rec.Kind,
		&rec.Content,
		&metadataStr,
		&embeddingStr,
		&rec.Importance,
		&rec.AccessCount,
		&rec.Owner,
		&rec.ContentHash,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&expiresAt,
	)
	if err != nil {
		return nil, err
	}

	if metadataStr.Valid && metadataStr.String != "" {
		if err := json.Unmarshal([]byte(metadataStr.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}
	if embeddingStr.Valid && embeddingStr.String != "" {
		if err := json.Unmarshal([]byte(embeddingStr.String), &rec.Embedding); err != nil {
			return nil, fmt.Errorf("parse embedding: %w", err)
		}
	}
	if expiresAt.Valid {
		rec.ExpiresAt = &expiresAt.Time
	}

	return &rec, nil
}

// collectRecords drains rows into records.
func collectRecords(rows *sql.Rows) ([]*storage.Record, error) {
	var records []*storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}
