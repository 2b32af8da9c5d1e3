package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/entrhq/reimburse/pkg/types"
)

// SQLiteStore implements Store on a SQLite database in WAL mode, so
// sessions and their cookies survive restarts.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dsn. A plain
// file path gets its parent directory created.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is empty")
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps :memory: databases coherent and avoids
	// SQLITE_BUSY between our own writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		chat_id    TEXT NOT NULL DEFAULT '',
		data       TEXT NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS login_tokens (
		token      TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_chat ON sessions(chat_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) deadline(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return s.now().Add(ttl).UnixNano()
}

// Save upserts rec.
func (s *SQLiteStore) Save(ctx context.Context, rec *Record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, chat_id, data, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET chat_id = excluded.chat_id, data = excluded.data, expires_at = excluded.expires_at`,
		rec.SessionID, rec.TelegramChatID, string(data), s.deadline(ttl))
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.SessionID, err)
	}
	return nil
}

func (s *SQLiteStore) scanRecord(row *sql.Row) (*Record, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrSessionNotFound
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &rec, nil
}

// Get returns the unexpired record for sessionID.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM sessions WHERE id = ? AND (expires_at = 0 OR expires_at > ?)`,
		sessionID, s.now().UnixNano())
	return s.scanRecord(row)
}

// Delete removes the record.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// GetByChatID returns the most recent unexpired session for a chat.
func (s *SQLiteStore) GetByChatID(ctx context.Context, chatID string) (*Record, error) {
	if chatID == "" {
		return nil, types.ErrSessionNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT data FROM sessions
		WHERE chat_id = ? AND (expires_at = 0 OR expires_at > ?)
		ORDER BY expires_at DESC LIMIT 1`,
		chatID, s.now().UnixNano())
	return s.scanRecord(row)
}

// SaveLoginToken maps token to sessionID for ttl.
func (s *SQLiteStore) SaveLoginToken(ctx context.Context, token, sessionID string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO login_tokens (token, session_id, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET session_id = excluded.session_id, expires_at = excluded.expires_at`,
		token, sessionID, s.deadline(ttl))
	if err != nil {
		return fmt.Errorf("save login token: %w", err)
	}
	return nil
}

// SessionIDForToken resolves a login token.
func (s *SQLiteStore) SessionIDForToken(ctx context.Context, token string) (string, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id FROM login_tokens WHERE token = ? AND (expires_at = 0 OR expires_at > ?)`,
		token, s.now().UnixNano()).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", types.ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("read login token: %w", err)
	}
	return sessionID, nil
}

// DeleteLoginToken removes a token.
func (s *SQLiteStore) DeleteLoginToken(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM login_tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete login token: %w", err)
	}
	return nil
}

// Sweep deletes expired sessions and tokens.
func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	now := s.now().UnixNano()
	removed := 0
	for _, table := range []string{"sessions", "login_tokens"} {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE expires_at != 0 AND expires_at <= ?`, table), now)
		if err != nil {
			return removed, fmt.Errorf("sweep %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		removed += int(n)
	}
	return removed, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
