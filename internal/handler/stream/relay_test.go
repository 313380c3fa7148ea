package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/saikaki/backend/internal/model/chat"
	chatservice "github.com/saikaki/backend/internal/service/chat"
	"github.com/saikaki/backend/internal/service/enrich"
	"github.com/saikaki/backend/internal/store"
)

// stubCompleter scripts the completion provider's behavior for one test.
type stubCompleter struct {
	streaming bool
	chunks    []string
	streamErr error
	recvErr   error
	generated string
	genErr    error

	mu       sync.Mutex
	genCalls int
}

func (s *stubCompleter) StreamingEnabled() bool { return s.streaming }

func (s *stubCompleter) Generate(context.Context, []chat.Message, string, string) (string, error) {
	s.mu.Lock()
	s.genCalls++
	s.mu.Unlock()
	return s.generated, s.genErr
}

func (s *stubCompleter) Stream(context.Context, []chat.Message, string, string) (*schema.StreamReader[*schema.Message], error) {
	if s.streamErr != nil {
		return nil, s.streamErr
	}

	reader, writer := schema.Pipe[*schema.Message](len(s.chunks) + 1)
	go func() {
		defer writer.Close()
		for _, c := range s.chunks {
			writer.Send(schema.AssistantMessage(c, nil), nil)
		}
		if s.recvErr != nil {
			writer.Send(nil, s.recvErr)
		}
	}()
	return reader, nil
}

// captureSink records relay events; onEvent runs after each recorded event.
type captureSink struct {
	mu      sync.Mutex
	events  []Event
	sendErr error
	onEvent func(Event)
}

func (s *captureSink) Send(event Event) error {
	s.mu.Lock()
	if s.sendErr != nil {
		s.mu.Unlock()
		return s.sendErr
	}
	s.events = append(s.events, event)
	cb := s.onEvent
	s.mu.Unlock()
	if cb != nil {
		cb(event)
	}
	return nil
}

func (s *captureSink) recorded() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

type suffixEnricher struct{ suffix string }

func (e suffixEnricher) Enrich(context.Context, string, string) (string, error) {
	return e.suffix, nil
}

func newTestRelay(t *testing.T, completer *stubCompleter, enricher enrich.Enricher) (*Relay, *chatservice.Service, string) {
	t.Helper()
	svc := chatservice.NewService(store.NewMemoryStore())
	session, err := svc.CreateSession(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if enricher == nil {
		enricher = enrich.Disabled{}
	}
	return NewRelay(svc, completer, enricher), svc, session.ID
}

func eventTypes(events []Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func assistantMessages(t *testing.T, svc *chatservice.Service, sessionID string) []chat.Message {
	t.Helper()
	messages, err := svc.ListMessages(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("ListMessages err: %v", err)
	}
	var out []chat.Message
	for _, m := range messages {
		if m.Role == chat.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

func TestRunEmitsEventsInOrder(t *testing.T) {
	completer := &stubCompleter{streaming: true, chunks: []string{"Hel", "lo ", "there"}}
	relay, svc, sessionID := newTestRelay(t, completer, nil)
	sink := &captureSink{}

	relay.Run(context.Background(), sink, sessionID, "hi", "")

	events := sink.recorded()
	got := eventTypes(events)
	want := []string{EventConnected, EventUserMessage, EventAIChunk, EventAIChunk, EventAIChunk, EventAIComplete, EventDone}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected event order: %v", got)
	}

	// Concatenated chunks equal the persisted assistant content.
	var concat strings.Builder
	for _, ev := range events {
		if ev.Type == EventAIChunk {
			concat.WriteString(ev.Chunk)
		}
	}
	replies := assistantMessages(t, svc, sessionID)
	if len(replies) != 1 {
		t.Fatalf("expected exactly one assistant message, got %d", len(replies))
	}
	if replies[0].Content != concat.String() {
		t.Fatalf("chunk concat %q != persisted %q", concat.String(), replies[0].Content)
	}
	if !replies[0].Flag("streamed") {
		t.Fatal("assistant message should be flagged streamed")
	}

	// aiComplete reconciles the temporary stream id.
	complete := events[len(events)-2]
	if complete.MessageID == "" || complete.MessageID == complete.Message.ID {
		t.Fatalf("aiComplete must carry the temporary id, got %q", complete.MessageID)
	}
}

func TestRunExactlyOneDone(t *testing.T) {
	completer := &stubCompleter{streaming: true, chunks: []string{"x"}}
	relay, _, sessionID := newTestRelay(t, completer, nil)
	sink := &captureSink{}

	relay.Run(context.Background(), sink, sessionID, "hi", "")

	done := 0
	for _, ev := range sink.recorded() {
		if ev.Type == EventDone {
			done++
		}
	}
	if done != 1 {
		t.Fatalf("expected exactly one done event, got %d", done)
	}
	if sink.recorded()[len(sink.recorded())-1].Type != EventDone {
		t.Fatal("done must be the terminal event")
	}
}

func TestRunUserMessagePrecedesChunks(t *testing.T) {
	completer := &stubCompleter{streaming: true, chunks: []string{"a", "b"}}
	relay, _, sessionID := newTestRelay(t, completer, nil)
	sink := &captureSink{}

	relay.Run(context.Background(), sink, sessionID, "hi", "")

	sawUser := false
	for _, ev := range sink.recorded() {
		switch ev.Type {
		case EventUserMessage:
			sawUser = true
		case EventAIChunk:
			if !sawUser {
				t.Fatal("aiChunk before userMessage")
			}
		}
	}
	if !sawUser {
		t.Fatal("no userMessage event")
	}
}

func TestRunFallsBackWhenStreamEstablishmentFails(t *testing.T) {
	completer := &stubCompleter{
		streaming: true,
		streamErr: errors.New("transport down"),
		generated: "blocking reply",
	}
	relay, svc, sessionID := newTestRelay(t, completer, nil)
	sink := &captureSink{}

	relay.Run(context.Background(), sink, sessionID, "hi", "")

	got := eventTypes(sink.recorded())
	want := []string{EventConnected, EventUserMessage, EventAIComplete, EventDone}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected event order: %v", got)
	}
	if completer.genCalls != 1 {
		t.Fatalf("expected exactly one blocking attempt, got %d", completer.genCalls)
	}

	replies := assistantMessages(t, svc, sessionID)
	if len(replies) != 1 || replies[0].Content != "blocking reply" {
		t.Fatalf("unexpected assistant messages: %+v", replies)
	}
	if replies[0].Flag("streamed") {
		t.Fatal("fallback reply must not be flagged streamed")
	}
}

func TestRunErrorPathPersistsSingleApology(t *testing.T) {
	completer := &stubCompleter{
		streaming: true,
		streamErr: errors.New("transport down"),
		genErr:    errors.New("provider down"),
	}
	relay, svc, sessionID := newTestRelay(t, completer, nil)
	sink := &captureSink{}

	relay.Run(context.Background(), sink, sessionID, "hi", "")

	replies := assistantMessages(t, svc, sessionID)
	if len(replies) != 1 {
		t.Fatalf("expected exactly one assistant message, got %d", len(replies))
	}
	if replies[0].Content != ApologyText {
		t.Fatalf("unexpected content %q", replies[0].Content)
	}
	if !replies[0].Flag("error") {
		t.Fatal("apology must be flagged as error")
	}

	events := sink.recorded()
	last := events[len(events)-1]
	if last.Type != EventDone {
		t.Fatalf("missing terminal done, got %v", eventTypes(events))
	}
	complete := events[len(events)-2]
	if complete.Type != EventAIComplete || complete.Message.Content != ApologyText {
		t.Fatalf("error path must announce the apology, got %v", eventTypes(events))
	}
}

func TestRunMidStreamFailureDoesNotFallBack(t *testing.T) {
	completer := &stubCompleter{
		streaming: true,
		chunks:    []string{"par", "tial"},
		recvErr:   errors.New("stream cut"),
		generated: "should not appear",
	}
	relay, svc, sessionID := newTestRelay(t, completer, nil)
	sink := &captureSink{}

	relay.Run(context.Background(), sink, sessionID, "hi", "")

	if completer.genCalls != 0 {
		t.Fatal("mid-stream failure must not trigger the blocking fallback")
	}
	replies := assistantMessages(t, svc, sessionID)
	if len(replies) != 1 || replies[0].Content != ApologyText {
		t.Fatalf("expected single apology, got %+v", replies)
	}
}

func TestRunClientDisconnectStopsWrites(t *testing.T) {
	completer := &stubCompleter{
		streaming: true,
		chunks:    []string{"1", "2", "3", "4", "5"},
	}
	relay, svc, sessionID := newTestRelay(t, completer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	chunkSeen := 0
	sink := &captureSink{}
	sink.onEvent = func(ev Event) {
		if ev.Type == EventAIChunk {
			chunkSeen++
			if chunkSeen == 3 {
				cancel()
			}
		}
	}

	relay.Run(ctx, sink, sessionID, "hi", "")

	chunks := 0
	for _, ev := range sink.recorded() {
		switch ev.Type {
		case EventAIChunk:
			chunks++
		case EventAIComplete, EventDone:
			t.Fatalf("%s observed after disconnect", ev.Type)
		}
	}
	if chunks != 3 {
		t.Fatalf("expected no chunk after the 3rd, got %d", chunks)
	}

	// Persistence already in flight completes; at most one assistant row.
	replies := assistantMessages(t, svc, sessionID)
	if len(replies) > 1 {
		t.Fatalf("duplicate assistant messages after disconnect: %d", len(replies))
	}
}

func TestRunAppendsEnrichmentSuffix(t *testing.T) {
	completer := &stubCompleter{streaming: true, chunks: []string{"base"}}
	relay, svc, sessionID := newTestRelay(t, completer, suffixEnricher{suffix: "\n\nLive results"})
	sink := &captureSink{}

	relay.Run(context.Background(), sink, sessionID, "latest news", "")

	var concat strings.Builder
	for _, ev := range sink.recorded() {
		if ev.Type == EventAIChunk {
			concat.WriteString(ev.Chunk)
		}
	}
	replies := assistantMessages(t, svc, sessionID)
	if len(replies) != 1 {
		t.Fatalf("expected one assistant message, got %d", len(replies))
	}
	if replies[0].Content != "base\n\nLive results" {
		t.Fatalf("suffix not appended: %q", replies[0].Content)
	}
	if concat.String() != replies[0].Content {
		t.Fatalf("chunk concat %q != persisted %q", concat.String(), replies[0].Content)
	}
	if !replies[0].Flag("enhanced") {
		t.Fatal("enriched reply must be flagged enhanced")
	}
}

func TestRunChannelWriteFailureSuppressed(t *testing.T) {
	completer := &stubCompleter{streaming: true, chunks: []string{"a", "b"}}
	relay, svc, sessionID := newTestRelay(t, completer, nil)
	sink := &captureSink{sendErr: errors.New("broken pipe")}

	relay.Run(context.Background(), sink, sessionID, "hi", "")

	// Write failure is cancellation, not turn failure: no apology persisted.
	for _, m := range assistantMessages(t, svc, sessionID) {
		if m.Content == ApologyText {
			t.Fatal("write failure must not persist an apology")
		}
	}
}
