package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentexec/core"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore persists histories in SQLite.
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
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`); err != nil {
		return nil, fmt.Errorf("failed to create messages table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq)`); err != nil {
		return nil, fmt.Errorf("failed to create messages index: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append inserts messages in one transaction.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msgs ...core.Message) error {
	if len(msgs) == 0 {
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

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (session_id, id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if m.ID == "" {
			m.ID = core.NewID()
		}
		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, sessionID, m.ID, string(m.Role), m.Content, ts.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("failed to append message %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// History returns the last limit messages, oldest first.
func (s *SQLiteStore) History(ctx context.Context, sessionID string, limit int) ([]core.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, created_at FROM (
			SELECT seq, id, role, content, created_at FROM messages
			WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		var (
			m       core.Message
			role    string
			created string
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = core.Role(role)
		if m.Timestamp, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("invalid timestamp for message %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Count returns the history length.
func (s *SQLiteStore) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// Delete drops the history.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
