package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saikaki/backend/internal/model/chat"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	session := chat.Session{UserID: "u1", Title: "t"}
	require.NoError(t, st.CreateSession(ctx, &session))

	msg := chat.Message{
		SessionID: session.ID,
		Role:      chat.RoleAssistant,
		Content:   "hello",
		Metadata:  chat.Metadata{"streamed": true, "replyTo": "abc"},
	}
	require.NoError(t, st.CreateMessage(ctx, &msg))

	messages, err := st.ListMessages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Content)
	assert.True(t, messages[0].Flag("streamed"))
	assert.Equal(t, "abc", messages[0].Metadata["replyTo"])
}

func TestSQLiteStoreDeleteCascades(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	session := chat.Session{UserID: "u1"}
	require.NoError(t, st.CreateSession(ctx, &session))
	msg := chat.Message{SessionID: session.ID, Role: chat.RoleUser, Content: "hi"}
	require.NoError(t, st.CreateMessage(ctx, &msg))

	require.NoError(t, st.DeleteSession(ctx, session.ID))
	_, err := st.ListMessages(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSQLiteStoreMissingSession(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetSession(ctx, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = st.UpdateSession(ctx, chat.Session{ID: "nope"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
