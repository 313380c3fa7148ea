package store

import (
	"context"
	"errors"

	"github.com/saikaki/backend/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
)

// Store is the record store behind the conversation service. Every write is
// an independent atomic row operation; the store makes no multi-row
// transactional guarantees.
type Store interface {
	CreateSession(ctx context.Context, session *chat.Session) error
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	UpdateSession(ctx context.Context, session chat.Session) error
	DeleteSession(ctx context.Context, sessionID string) error
	ListSessions(ctx context.Context, userID string) ([]chat.Session, error)

	CreateMessage(ctx context.Context, message *chat.Message) error
	// ListMessages returns the session's messages ordered by creation time.
	ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error)

	Close() error
}
