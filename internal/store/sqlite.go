package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single writer keeps SQLite happy under concurrent loop executions.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_ts ON messages(session_id, ts);`,
		`CREATE TABLE IF NOT EXISTS memory_items (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			content_hash TEXT NOT NULL UNIQUE,
			metadata TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configuration (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Session Implementation

func (s *SQLiteStore) CreateSession(id string) (*Session, error) {
	now := time.Now()
	query := `INSERT INTO sessions (id, created_at) VALUES (?, ?)`
	if _, err := s.db.Exec(query, id, now.UnixNano()); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &Session{ID: id, CreatedAt: now}, nil
}

func (s *SQLiteStore) GetSession(id string) (*Session, error) {
	query := `SELECT s.id, s.created_at,
		(SELECT COUNT(1) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s WHERE s.id = ?`
	row := s.db.QueryRow(query, id)

	var session Session
	var createdAt int64
	if err := row.Scan(&session.ID, &createdAt, &session.MessageCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
		}
		return nil, err
	}
	session.CreatedAt = time.Unix(0, createdAt)
	return &session, nil
}

func (s *SQLiteStore) ListSessions(limit int) ([]*Session, error) {
	query := `SELECT s.id, s.created_at,
		(SELECT COUNT(1) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s ORDER BY s.created_at DESC, s.id DESC LIMIT ?`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var session Session
		var createdAt int64
		if err := rows.Scan(&session.ID, &createdAt, &session.MessageCount); err != nil {
			return nil, err
		}
		session.CreatedAt = time.Unix(0, createdAt)
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) AppendMessage(sessionID, role, content string) (*Message, error) {
	var exists bool
	if err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM sessions WHERE id = ?)`, sessionID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	now := time.Now()
	res, err := s.db.Exec(
		`INSERT INTO messages (session_id, ts, role, content) VALUES (?, ?, ?, ?)`,
		sessionID, now.UnixNano(), role, content,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:        id,
		SessionID: sessionID,
		TS:        now,
		Role:      role,
		Content:   content,
	}, nil
}

// ListMessages returns the most recent `limit` messages of a session in
// chronological (ts, id) order. limit <= 0 returns the full transcript.
func (s *SQLiteStore) ListMessages(sessionID string, limit int) ([]*Message, error) {
	var exists bool
	if err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM sessions WHERE id = ?)`, sessionID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	if limit <= 0 {
		limit = -1 // SQLite: LIMIT -1 means no limit
	}
	query := `SELECT id, session_id, ts, role, content FROM (
			SELECT id, session_id, ts, role, content FROM messages
			WHERE session_id = ? ORDER BY ts DESC, id DESC LIMIT ?
		) ORDER BY ts ASC, id ASC`
	rows, err := s.db.Query(query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var ts int64
		if err := rows.Scan(&msg.ID, &msg.SessionID, &ts, &msg.Role, &msg.Content); err != nil {
			return nil, err
		}
		msg.TS = time.Unix(0, ts)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// Memory Item Implementation

func (s *SQLiteStore) FindMemoryIDByHash(hash string) (string, error) {
	row := s.db.QueryRow(`SELECT id FROM memory_items WHERE content_hash = ?`, hash)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// InsertMemoryItem persists the item unless another item already owns its
// content hash. The UNIQUE constraint arbitrates concurrent inserts of
// identical text: the loser reads back the winner's id and reports
// inserted=false.
func (s *SQLiteStore) InsertMemoryItem(item *MemoryItem) (string, bool, error) {
	metaJSON, err := json.Marshal(item.Metadata)
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	res, err := s.db.Exec(
		`INSERT INTO memory_items (id, text, content_hash, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT(content_hash) DO NOTHING`,
		item.ID, item.Text, item.ContentHash, string(metaJSON), item.CreatedAt.UnixNano(),
	)
	if err != nil {
		return "", false, fmt.Errorf("failed to insert memory item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if affected == 0 {
		existing, err := s.FindMemoryIDByHash(item.ContentHash)
		if err != nil {
			return "", false, err
		}
		return existing, false, nil
	}
	return item.ID, true, nil
}

func (s *SQLiteStore) GetMemoryItem(id string) (*MemoryItem, error) {
	row := s.db.QueryRow(
		`SELECT id, text, content_hash, metadata, created_at FROM memory_items WHERE id = ?`, id)

	var item MemoryItem
	var metaJSON string
	var createdAt int64
	if err := row.Scan(&item.ID, &item.Text, &item.ContentHash, &metaJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("memory item not found: %s", id)
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(metaJSON), &item.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	item.CreatedAt = time.Unix(0, createdAt)
	return &item, nil
}

func (s *SQLiteStore) CountMemoryItems() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM memory_items`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Configuration Implementation

func (s *SQLiteStore) SetConfig(key, value string) error {
	query := `INSERT INTO configuration (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	_, err := s.db.Exec(query, key, value)
	return err
}

func (s *SQLiteStore) GetConfig(key string) (string, error) {
	query := `SELECT value FROM configuration WHERE key = ?`
	row := s.db.QueryRow(query, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return value, nil
}
