// Package session implements the conversation session store (C13): a
// TTL-bounded, FIFO-depth-capped (N=10) history of {role, content,
// timestamp} messages per session, persisted across restarts.
// Grounded on catalog.Open's SQLite-open pattern (internal/catalog),
// using modernc.org/sqlite rather than mattn/go-sqlite3 so session
// storage stays cgo-free and independently swappable to an in-memory
// mode, matching original_source/backend/services/session_storage.py's
// PersistentSessionStorage schema (session_id, created_at,
// last_accessed, a JSON-encoded messages column) and
// session_service.py's bounded-depth trim.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mohammad-wq/filegpt/internal/apperr"
)

// MaxMessages bounds the FIFO history depth per session (spec §4.13:
// "N = 10").
const MaxMessages = 10

// DefaultTTL is how long a session survives without access before
// cleanup_expired reaps it (spec §4.13).
const DefaultTTL = time.Hour

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL,
	messages TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_sessions_last_accessed ON sessions(last_accessed);
`

// Message is one turn of conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Mode selects the storage backend (spec §6 env var).
type Mode string

const (
	// ModeMemory keeps sessions only for the process lifetime.
	ModeMemory Mode = "memory"
	// ModePersistent survives restarts via a SQLite-backed store.
	ModePersistent Mode = "persistent"
)

// Store is the session store's narrow operation set (spec §4.13):
// create, append, history, clear, cleanup_expired.
type Store interface {
	Create(ctx context.Context, id string) (string, error)
	Append(ctx context.Context, id, role, content string) error
	History(ctx context.Context, id string) ([]Message, error)
	Clear(ctx context.Context, id string) error
	CleanupExpired(ctx context.Context) (int, error)
	Close() error
}

// Open constructs a Store per mode. dbPath is ignored in ModeMemory.
func Open(mode Mode, dbPath string, ttl time.Duration) (Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	switch mode {
	case ModeMemory:
		return newMemoryStore(ttl), nil
	case ModePersistent:
		return openSQLiteStore(dbPath, ttl)
	default:
		return nil, apperr.New(apperr.KindInternal, fmt.Sprintf("unknown session store mode: %q", mode))
	}
}

// sqliteStore is the persistent backend.
type sqliteStore struct {
	db  *sql.DB
	ttl time.Duration
}

func openSQLiteStore(dbPath string, ttl time.Duration) (*sqliteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "creating session store directory", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "opening session database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.KindStorage, "pinging session database", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.KindStorage, "creating session schema", err)
	}
	db.SetMaxOpenConns(4)
	return &sqliteStore{db: db, ttl: ttl}, nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Create(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (session_id, created_at, last_accessed, messages)
		VALUES (?, ?, ?, '[]')`, id, now, now)
	if err != nil {
		return "", apperr.Wrap(apperr.KindStorage, "creating session", err)
	}
	return id, nil
}

func (s *sqliteStore) Append(ctx context.Context, id, role, content string) error {
	row := s.db.QueryRowContext(ctx, "SELECT messages FROM sessions WHERE session_id = ?", id)
	var raw string
	if err := row.Scan(&raw); err == sql.ErrNoRows {
		if _, err := s.Create(ctx, id); err != nil {
			return err
		}
		raw = "[]"
	} else if err != nil {
		return apperr.Wrap(apperr.KindStorage, "reading session for append", err)
	}

	var messages []Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		messages = nil
	}
	messages = append(messages, Message{Role: role, Content: content, Timestamp: time.Now()})
	if len(messages) > MaxMessages {
		messages = messages[len(messages)-MaxMessages:]
	}

	encoded, err := json.Marshal(messages)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "encoding session history", err)
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE sessions SET messages = ?, last_accessed = ? WHERE session_id = ?",
		string(encoded), time.Now().Unix(), id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "appending session message", err)
	}
	return nil
}

func (s *sqliteStore) History(ctx context.Context, id string) ([]Message, error) {
	row := s.db.QueryRowContext(ctx, "SELECT messages FROM sessions WHERE session_id = ?", id)
	var raw string
	if err := row.Scan(&raw); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "reading session history", err)
	}
	var messages []Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "decoding session history", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET last_accessed = ? WHERE session_id = ?", time.Now().Unix(), id); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "touching session", err)
	}
	return messages, nil
}

func (s *sqliteStore) Clear(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET messages = '[]', last_accessed = ? WHERE session_id = ?",
		time.Now().Unix(), id)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "clearing session", err)
	}
	return nil
}

func (s *sqliteStore) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.ttl).Unix()
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE last_accessed < ?", cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, "cleaning up expired sessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, "counting cleaned sessions", err)
	}
	return int(n), nil
}

// memoryStore is the in-process, non-persistent backend (spec §6
// "memory" mode).
type memoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*memSession
}

type memSession struct {
	lastAccessed time.Time
	messages     []Message
}

func newMemoryStore(ttl time.Duration) *memoryStore {
	return &memoryStore{ttl: ttl, sessions: map[string]*memSession{}}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) Create(ctx context.Context, id string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		s.sessions[id] = &memSession{lastAccessed: time.Now()}
	}
	return id, nil
}

func (s *memoryStore) Append(ctx context.Context, id, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &memSession{}
		s.sessions[id] = sess
	}
	sess.messages = append(sess.messages, Message{Role: role, Content: content, Timestamp: time.Now()})
	if len(sess.messages) > MaxMessages {
		sess.messages = sess.messages[len(sess.messages)-MaxMessages:]
	}
	sess.lastAccessed = time.Now()
	return nil
}

func (s *memoryStore) History(ctx context.Context, id string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	sess.lastAccessed = time.Now()
	out := make([]Message, len(sess.messages))
	copy(out, sess.messages)
	return out, nil
}

func (s *memoryStore) Clear(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.messages = nil
		sess.lastAccessed = time.Now()
	}
	return nil
}

func (s *memoryStore) CleanupExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-s.ttl)
	removed := 0
	for id, sess := range s.sessions {
		if sess.lastAccessed.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}
