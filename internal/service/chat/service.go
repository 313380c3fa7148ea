package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/saikaki/backend/internal/model/chat"
	"github.com/saikaki/backend/internal/store"
)

var (
	// ErrNoUserTurn means the session has nothing eligible to regenerate.
	ErrNoUserTurn = errors.New("no prior user message to regenerate from")

	ErrSessionNotFound = store.ErrSessionNotFound
)

// HistoryWindow is the number of most recent messages sent upstream as
// conversation context.
const HistoryWindow = 10

// titleRuneLimit caps the auto-derived session title length.
const titleRuneLimit = 40

// Service owns conversation rules on top of the record store: title
// derivation, session touch after every turn, the history window, and
// regenerate target selection.
type Service struct {
	store store.Store
}

// NewService wraps the given record store.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// CreateSession provisions an empty session for the user.
func (s *Service) CreateSession(ctx context.Context, userID string) (chat.Session, error) {
	session := chat.Session{UserID: userID}
	if err := s.store.CreateSession(ctx, &session); err != nil {
		return chat.Session{}, err
	}
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// DeleteSession removes a session and its messages.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	return s.store.DeleteSession(ctx, sessionID)
}

// ListSessions returns sessions, optionally filtered by owner.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]chat.Session, error) {
	return s.store.ListSessions(ctx, userID)
}

// ListMessages returns the full ordered transcript.
func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.store.ListMessages(ctx, sessionID)
}

// SaveUserMessage persists one user turn. The first user message of a
// session also sets the session title.
func (s *Service) SaveUserMessage(ctx context.Context, sessionID, content string) (chat.Message, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Message{}, err
	}

	message := chat.Message{
		SessionID: sessionID,
		Role:      chat.RoleUser,
		Content:   content,
	}
	if err := s.store.CreateMessage(ctx, &message); err != nil {
		return chat.Message{}, fmt.Errorf("failed to save user message: %w", err)
	}

	if session.Title == "" {
		session.Title = deriveTitle(content)
	}
	session.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return chat.Message{}, fmt.Errorf("failed to touch session: %w", err)
	}
	return message, nil
}

// SaveAssistantMessage persists one assistant turn with its metadata and
// bumps the session timestamp.
func (s *Service) SaveAssistantMessage(ctx context.Context, sessionID, content string, meta chat.Metadata) (chat.Message, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Message{}, err
	}

	message := chat.Message{
		SessionID: sessionID,
		Role:      chat.RoleAssistant,
		Content:   content,
		Metadata:  meta,
	}
	if err := s.store.CreateMessage(ctx, &message); err != nil {
		return chat.Message{}, fmt.Errorf("failed to save assistant message: %w", err)
	}

	session.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return chat.Message{}, fmt.Errorf("failed to touch session: %w", err)
	}
	return message, nil
}

// History returns the most recent HistoryWindow messages, oldest first.
func (s *Service) History(ctx context.Context, sessionID string) ([]chat.Message, error) {
	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return tail(messages, HistoryWindow), nil
}

// RegenerateTarget selects the most recent user message and the context for
// re-answering it: every message before the most recent assistant reply,
// truncated to the history window. Errors with ErrNoUserTurn when the
// session has fewer than two messages or no user message at all.
func (s *Service) RegenerateTarget(ctx context.Context, sessionID string) (chat.Message, []chat.Message, error) {
	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return chat.Message{}, nil, err
	}
	if len(messages) < 2 {
		return chat.Message{}, nil, ErrNoUserTurn
	}

	var userMsg *chat.Message
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chat.RoleUser {
			userMsg = &messages[i]
			break
		}
	}
	if userMsg == nil {
		return chat.Message{}, nil, ErrNoUserTurn
	}

	lastAssistant := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chat.RoleAssistant {
			lastAssistant = i
			break
		}
	}
	context := messages
	if lastAssistant >= 0 {
		context = messages[:lastAssistant]
	}
	// The target user message is re-sent as the query, so it is dropped from
	// the context to avoid the provider seeing it twice.
	if len(context) > 0 && context[len(context)-1].ID == userMsg.ID {
		context = context[:len(context)-1]
	}
	return *userMsg, tail(context, HistoryWindow), nil
}

func tail(messages []chat.Message, limit int) []chat.Message {
	if len(messages) <= limit {
		return messages
	}
	return messages[len(messages)-limit:]
}

func deriveTitle(content string) string {
	title := strings.TrimSpace(content)
	if line, _, found := strings.Cut(title, "\n"); found {
		title = strings.TrimSpace(line)
	}
	if utf8.RuneCountInString(title) > titleRuneLimit {
		runes := []rune(title)
		title = string(runes[:titleRuneLimit]) + "…"
	}
	return title
}
