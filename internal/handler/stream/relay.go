// Package stream drives one user turn over a long-lived push channel:
// persist the inbound message, relay provider fragments as they arrive,
// append enrichment, persist the reply, and close out with a terminal event.
package stream

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/saikaki/backend/internal/model/chat"
	"github.com/saikaki/backend/internal/service/ai"
	chatservice "github.com/saikaki/backend/internal/service/chat"
	"github.com/saikaki/backend/internal/service/enrich"
	"github.com/saikaki/backend/internal/service/pii"
)

// Event types delivered on the push channel, in fixed per-turn order:
// connected, userMessage, zero or more aiChunk, aiComplete, done. error may
// replace the aiChunk/aiComplete run when the turn cannot produce a reply.
const (
	EventConnected   = "connected"
	EventUserMessage = "userMessage"
	EventAIChunk     = "aiChunk"
	EventAIComplete  = "aiComplete"
	EventError       = "error"
	EventDone        = "done"
)

// Event is one framed message on the channel.
type Event struct {
	Type      string        `json:"type"`
	SessionID string        `json:"sessionId,omitempty"`
	Message   *chat.Message `json:"message,omitempty"`
	Chunk     string        `json:"chunk,omitempty"`
	MessageID string        `json:"messageId,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Sink is the transport half of the channel. Send returns an error when the
// client is gone; the relay treats that as cancellation.
type Sink interface {
	Send(event Event) error
}

// ApologyText is the fixed assistant reply persisted when a turn fails.
const ApologyText = "I'm sorry — something went wrong while I was answering. Please try again."

// Relay orchestrates turns. It holds no per-turn state; each Run call owns
// one turn.
type Relay struct {
	chatSvc   *chatservice.Service
	completer ai.Completer
	enricher  enrich.Enricher
}

// NewRelay wires the relay's collaborators.
func NewRelay(chatSvc *chatservice.Service, completer ai.Completer, enricher enrich.Enricher) *Relay {
	return &Relay{chatSvc: chatSvc, completer: completer, enricher: enricher}
}

// turn is the transient per-turn state: accumulated text lives in the
// relay loop; here we track the channel side. terminal is set exactly once —
// on disconnect, completion, or fatal error — and no event is written after
// it is set.
type turn struct {
	ctx       context.Context
	sink      Sink
	sessionID string
	// streamID correlates aiChunk events with the eventually persisted
	// assistant message.
	streamID string
	terminal atomic.Bool
	doneOnce sync.Once
}

// send writes one event unless the turn is already terminal. A write failure
// or context cancellation flips the terminal flag; later sends are no-ops.
func (t *turn) send(event Event) {
	if t.terminal.Load() {
		return
	}
	if t.ctx.Err() != nil {
		t.terminal.Store(true)
		return
	}
	if err := t.sink.Send(event); err != nil {
		log.Printf("[stream] channel write failed, marking turn terminal: %v", err)
		t.terminal.Store(true)
	}
}

// finish emits the single terminal done event and seals the turn.
func (t *turn) finish() {
	t.doneOnce.Do(func() {
		t.send(Event{Type: EventDone, SessionID: t.sessionID})
		t.terminal.Store(true)
	})
}

// Run drives one turn end to end. userText must be non-empty and already
// validated by the transport handler.
func (r *Relay) Run(ctx context.Context, sink Sink, sessionID, userText, locality string) {
	t := &turn{
		ctx:       ctx,
		sink:      sink,
		sessionID: sessionID,
		streamID:  uuid.NewString(),
	}
	defer t.finish()

	t.send(Event{Type: EventConnected, SessionID: sessionID})

	cleaned, err := pii.Clean(userText)
	if err != nil {
		// The filter failed before any row was written; nothing to persist.
		t.send(Event{Type: EventError, SessionID: sessionID, Error: "message could not be processed"})
		return
	}

	// Context is loaded before the user turn is persisted so the new message
	// is not duplicated into its own history.
	history, err := r.chatSvc.History(ctx, sessionID)
	if err != nil {
		t.send(Event{Type: EventError, SessionID: sessionID, Error: "failed to load conversation"})
		return
	}

	userMsg, err := r.chatSvc.SaveUserMessage(ctx, sessionID, cleaned)
	if err != nil {
		t.send(Event{Type: EventError, SessionID: sessionID, Error: "failed to save message"})
		return
	}
	// The user bubble renders before any upstream call is made.
	t.send(Event{Type: EventUserMessage, SessionID: sessionID, Message: &userMsg})

	final, streamed, err := r.generate(ctx, t, history, cleaned, locality)
	if err != nil {
		if ctx.Err() != nil {
			// Client is gone; cancellation is not a turn failure.
			log.Printf("[stream] turn cancelled for session=%s", sessionID)
			return
		}
		log.Printf("[stream] generation failed for session=%s: %v", sessionID, err)
		r.failTurn(ctx, t, userMsg.ID)
		return
	}

	meta := chat.Metadata{"streamed": streamed, "replyTo": userMsg.ID}
	if suffix, enrichErr := r.enricher.Enrich(ctx, cleaned, final); enrichErr != nil {
		// The reply is already complete; ship it unenriched.
		log.Printf("[stream] enrichment skipped for session=%s: %v", sessionID, enrichErr)
	} else if suffix != "" {
		t.send(Event{Type: EventAIChunk, SessionID: sessionID, Chunk: suffix, MessageID: t.streamID})
		final += suffix
		meta["enhanced"] = true
	}

	// Disconnect must not abort a persistence write already due.
	persistCtx := context.WithoutCancel(ctx)
	aiMsg, err := r.chatSvc.SaveAssistantMessage(persistCtx, sessionID, final, meta)
	if err != nil {
		log.Printf("[stream] failed to save assistant message for session=%s: %v", sessionID, err)
		t.send(Event{Type: EventError, SessionID: sessionID, Error: "failed to save reply"})
		return
	}

	t.send(Event{Type: EventAIComplete, SessionID: sessionID, Message: &aiMsg, MessageID: t.streamID})
	log.Printf("[stream] completed turn for session=%s, streamed=%v, length=%d", sessionID, streamed, len(final))
}

// generate obtains the reply text. Streaming fragments are relayed in
// arrival order; when the stream cannot be established at all, one blocking
// attempt is made against the same provider.
func (r *Relay) generate(ctx context.Context, t *turn, history []chat.Message, userText, locality string) (string, bool, error) {
	if !r.completer.StreamingEnabled() {
		text, err := r.completer.Generate(ctx, history, userText, locality)
		return text, false, err
	}

	reader, err := r.completer.Stream(ctx, history, userText, locality)
	if err != nil {
		// Establishment failed before any chunk: degrade to one blocking call.
		log.Printf("[stream] streaming unavailable, falling back to blocking call: %v", err)
		text, genErr := r.completer.Generate(ctx, history, userText, locality)
		return text, false, genErr
	}
	defer reader.Close()

	var content strings.Builder
	for {
		chunk, recvErr := reader.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return "", true, recvErr
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		content.WriteString(chunk.Content)
		t.send(Event{Type: EventAIChunk, SessionID: t.sessionID, Chunk: chunk.Content, MessageID: t.streamID})
	}
	return content.String(), true, nil
}

// failTurn persists the single apologetic assistant message for a failed
// turn and announces it if the channel is still open.
func (r *Relay) failTurn(ctx context.Context, t *turn, userMsgID string) {
	persistCtx := context.WithoutCancel(ctx)
	msg, err := r.chatSvc.SaveAssistantMessage(persistCtx, t.sessionID, ApologyText, chat.Metadata{
		"error":   true,
		"replyTo": userMsgID,
	})
	if err != nil {
		log.Printf("[stream] failed to persist error reply for session=%s: %v", t.sessionID, err)
		t.send(Event{Type: EventError, SessionID: t.sessionID, Error: "reply generation failed"})
		return
	}
	t.send(Event{Type: EventAIComplete, SessionID: t.sessionID, Message: &msg, MessageID: t.streamID})
}
