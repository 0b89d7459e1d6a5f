package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore persists embeddings in SQLite as float32 BLOBs. Similarity is
// computed in Go over the namespace, which suits the per-session namespaces
// this store holds (hundreds of rows, not millions).
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a database at dsn. Use ":memory:" for an
// ephemeral store.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open database and creates the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS vectors (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			namespace TEXT NOT NULL,
			id TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			embedding BLOB,
			UNIQUE(namespace, id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create vectors table: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Upsert writes records in one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, ns string, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (namespace, id, content, metadata, embedding)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, ns, r.ID, r.Text, string(meta), encodeVector(r.Vector)); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Query loads the namespace and ranks it by cosine distance.
func (s *SQLiteStore) Query(ctx context.Context, ns string, vector []float32, topK int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, metadata, embedding FROM vectors WHERE namespace = ? ORDER BY seq`, ns)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			id, content string
			meta        sql.NullString
			blob        []byte
		)
		if err := rows.Scan(&id, &content, &meta, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		md, err := decodeMetadata(meta)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{
			ID:       id,
			Text:     content,
			Metadata: md,
			Distance: CosineDistance(vector, decodeVector(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return rank(matches, topK), nil
}

// ListIDs returns ids in insertion order.
func (s *SQLiteStore) ListIDs(ctx context.Context, ns string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM vectors WHERE namespace = ? ORDER BY seq LIMIT ?`, ns, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// List returns records without vectors in insertion order.
func (s *SQLiteStore) List(ctx context.Context, ns string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, metadata FROM vectors WHERE namespace = ? ORDER BY seq LIMIT ?`, ns, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r    Record
			meta sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Text, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if r.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the namespace size.
func (s *SQLiteStore) Count(ctx context.Context, ns string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors WHERE namespace = ?`, ns).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}

// Delete removes ids.
func (s *SQLiteStore) Delete(ctx context.Context, ns string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, ns)
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(`DELETE FROM vectors WHERE namespace = ? AND id IN (%s)`, placeholders)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	return nil
}

// DeleteNamespace drops every row of the namespace.
func (s *SQLiteStore) DeleteNamespace(ctx context.Context, ns string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE namespace = ?`, ns); err != nil {
		return fmt.Errorf("failed to delete namespace: %w", err)
	}
	return nil
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func decodeMetadata(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" || ns.String == "null" {
		return nil, nil
	}
	var md map[string]any
	if err := json.Unmarshal([]byte(ns.String), &md); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return md, nil
}
