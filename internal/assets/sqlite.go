package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_history (
	tracking_id TEXT NOT NULL,
	model_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	body BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (tracking_id, model_id)
);
CREATE TABLE IF NOT EXISTS model_usage (
	model_id TEXT PRIMARY KEY,
	use_count INTEGER NOT NULL,
	last_used INTEGER NOT NULL
);
`

// SQLite persists usage and chat histories in a single database file.
type SQLite struct {
	Root
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(root Root, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer; sqlite serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &SQLite{Root: root, db: db}, nil
}

func (s *SQLite) MarkModelUsed(ctx context.Context, ref string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_usage (model_id, use_count, last_used) VALUES (?, 1, ?)
		ON CONFLICT(model_id) DO UPDATE SET use_count = use_count + 1, last_used = excluded.last_used`,
		ref, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("mark model used: %w", err)
	}
	return nil
}

func (s *SQLite) Usage(ctx context.Context, ref string) (Usage, error) {
	var count, last int64
	err := s.db.QueryRowContext(ctx, `SELECT use_count, last_used FROM model_usage WHERE model_id = ?`, ref).Scan(&count, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return Usage{}, nil
	}
	if err != nil {
		return Usage{}, fmt.Errorf("read usage: %w", err)
	}
	return Usage{Count: count, LastUsed: time.UnixMilli(last)}, nil
}

func (s *SQLite) LoadChatHistory(ctx context.Context, trackingID, modelID, fingerprint string) ([]byte, bool, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM chat_history WHERE tracking_id = ? AND model_id = ? AND fingerprint = ?`,
		trackingID, modelID, fingerprint).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load chat history: %w", err)
	}
	return body, true, nil
}

func (s *SQLite) SaveChatHistory(ctx context.Context, trackingID, modelID, fingerprint string, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_history (tracking_id, model_id, fingerprint, body, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tracking_id, model_id) DO UPDATE SET
			fingerprint = excluded.fingerprint, body = excluded.body, updated_at = excluded.updated_at`,
		trackingID, modelID, fingerprint, blob, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save chat history: %w", err)
	}
	return nil
}

func (s *SQLite) RemoveChatHistory(ctx context.Context, trackingID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_history WHERE tracking_id = ?`, trackingID); err != nil {
		return fmt.Errorf("remove chat history: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }
