package store

import (
	"errors"
	"time"
)

// ErrUnknownSession is returned when a message is appended to, or listed
// from, a session id that was never created.
var ErrUnknownSession = errors.New("unknown session")

// Session groups an ordered message transcript.
type Session struct {
	ID           string
	CreatedAt    time.Time
	MessageCount int
}

// Message is one append-only transcript entry. Transcript order within a
// session is (ts, id).
type Message struct {
	ID        int64
	SessionID string
	TS        time.Time
	Role      string
	Content   string
}

/// MemoryItem is the persisted half of a long-term memory: the normalized
// text, its content hash and provenance metadata. The embedding lives in
// the vector index under the same id.
type MemoryItem struct {
	ID          string
	Text        string
	ContentHash string
	Metadata    map[string]string
	CreatedAt   time.Time
}

// Storage defines the interface for durable persistence.
type Storage interface {
	// Session management. Writes are append-only: sessions and messages
	// are never updated or deleted.
	CreateSession(id string) (*Session, error)
	GetSession(id string) (*Session, error)
	ListSessions(limit int) ([]*Session, error)
	AppendMessage(sessionID, role, content string) (*Message, error)
	ListMessages(sessionID string, limit int) ([]*Message, error)

	// Memory item management. InsertMemoryItem relies on a UNIQUE
	// constraint on content_hash so that two concurrent inserts of the
	// same normalized text cannot both succeed.
	FindMemoryIDByHash(hash string) (string, error)
	InsertMemoryItem(item *MemoryItem) (id string, inserted bool, err error)
	GetMemoryItem(id string) (*MemoryItem, error)
	CountMemoryItems() (int, error)

	// Configuration management.
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)

	Close() error
}
