// Package persistence defines the storage contracts used by the HTTP layer
// (internal/agentd) without committing it to a concrete backend. Concrete
// implementations live in internal/persistence/databases.
package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session or message lookup has no match.
var ErrNotFound = errors.New("persistence: not found")

// ErrForbidden is returned when a session exists but is owned by a different user.
var ErrForbidden = errors.New("persistence: forbidden")

// ChatSession is a persisted conversation thread.
type ChatSession struct {
	ID                  string
	Name                string
	UserID              *int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastMessagePreview  string
	Model               string
	Summary             string
	SummarizedCount     int
}

// ChatMessage is a single turn within a ChatSession.
type ChatMessage struct {
	ID        string
	SessionID string
	Role      string // "user", "assistant", "tool"
	Content   string
	CreatedAt time.Time
}

// ChatStore persists research conversations (C16). userID is nil for
// anonymous/unauthenticated deployments, in which case access checks are
// skipped; when non-nil, every lookup enforces that the caller owns the
// session it names.
type ChatStore interface {
	Init(ctx context.Context) error

	EnsureSession(ctx context.Context, userID *int64, id, name string) (ChatSession, error)
	ListSessions(ctx context.Context, userID *int64) ([]ChatSession, error)
	GetSession(ctx context.Context, userID *int64, id string) (ChatSession, error)
	CreateSession(ctx context.Context, userID *int64, name string) (ChatSession, error)
	RenameSession(ctx context.Context, userID *int64, id, name string) (ChatSession, error)
	DeleteSession(ctx context.Context, userID *int64, id string) error

	ListMessages(ctx context.Context, userID *int64, sessionID string, limit int) ([]ChatMessage, error)
	AppendMessages(ctx context.Context, userID *int64, sessionID string, messages []ChatMessage, preview string, model string) error
	UpdateSummary(ctx context.Context, userID *int64, sessionID string, summary string, summarizedCount int) error
}
