package dispatch

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/chatctl/internal/chat"
	"github.com/danmuck/chatctl/internal/testutil/testlog"
	"github.com/danmuck/chatctl/internal/wire"
)

func envelope(t *testing.T, event string, payload any) wire.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return wire.Envelope{Event: event, Data: data}
}

func inboundMessage(id string) chat.Message {
	return chat.Message{
		ID:        id,
		SessionID: "s.1",
		Sender:    chat.SenderAgent,
		Message:   "hi there",
		CreatedAt: time.Now().UTC(),
	}
}

func TestNewMessageReachesListeners(t *testing.T) {
	testlog.Start(t)
	d := New("test", zerolog.Nop())

	var got []chat.Message
	d.OnNewMessage(func(m chat.Message) { got = append(got, m) })

	d.HandleEnvelope(envelope(t, wire.EventNewMessage, inboundMessage("m.1")))
	if len(got) != 1 || got[0].ID != "m.1" {
		t.Fatalf("unexpected messages: %+v", got)
	}
}

func TestDuplicateMessagesDroppedSilently(t *testing.T) {
	testlog.Start(t)
	d := New("test", zerolog.Nop())

	var count int
	d.OnNewMessage(func(chat.Message) { count++ })

	env := envelope(t, wire.EventNewMessage, inboundMessage("m.dup"))
	d.HandleEnvelope(env)
	d.HandleEnvelope(env)
	d.HandleEnvelope(env)
	if count != 1 {
		t.Fatalf("duplicate delivered %d times", count)
	}

	// A different id still goes through.
	d.HandleEnvelope(envelope(t, wire.EventNewMessage, inboundMessage("m.other")))
	if count != 2 {
		t.Fatalf("fresh message not delivered, count=%d", count)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	testlog.Start(t)
	d := New("test", zerolog.Nop())

	var a, b int
	unsubA := d.OnAgentJoined(func(wire.AgentJoined) { a++ })
	d.OnAgentJoined(func(wire.AgentJoined) { b++ })

	d.HandleEnvelope(envelope(t, wire.EventAgentJoined, wire.AgentJoined{SessionID: "s.1", AgentName: "Alex"}))
	unsubA()
	unsubA()
	d.HandleEnvelope(envelope(t, wire.EventAgentJoined, wire.AgentJoined{SessionID: "s.1", AgentName: "Sam"}))

	if a != 1 || b != 2 {
		t.Fatalf("unexpected counts: a=%d b=%d", a, b)
	}
}

func TestPanickingListenerDoesNotBlockOthers(t *testing.T) {
	testlog.Start(t)
	d := New("test", zerolog.Nop())

	var after int
	d.OnSessionClosed(func(wire.SessionClosed) { panic("listener blew up") })
	d.OnSessionClosed(func(wire.SessionClosed) { after++ })

	d.HandleEnvelope(envelope(t, wire.EventSessionClosed, wire.SessionClosed{SessionID: "s.1"}))
	if after != 1 {
		t.Fatalf("listener after panic not notified")
	}
}

func TestMalformedAndInvalidPayloadsDropped(t *testing.T) {
	testlog.Start(t)
	d := New("test", zerolog.Nop())

	var count int
	d.OnNewMessage(func(chat.Message) { count++ })

	d.HandleEnvelope(wire.Envelope{Event: wire.EventNewMessage, Data: json.RawMessage(`"not an object"`)})
	d.HandleEnvelope(wire.Envelope{Event: wire.EventNewMessage})
	// Structurally valid JSON but an invalid message (no text).
	d.HandleEnvelope(envelope(t, wire.EventNewMessage, chat.Message{ID: "m.1", SessionID: "s.1", Sender: chat.SenderAgent}))

	if count != 0 {
		t.Fatalf("invalid payloads reached listeners %d times", count)
	}
}

func TestSessionAndMessageErrorsRouted(t *testing.T) {
	testlog.Start(t)
	d := New("test", zerolog.Nop())

	var sessionErrs, messageErrs []string
	d.OnSessionError(func(e wire.SessionError) { sessionErrs = append(sessionErrs, e.Error) })
	d.OnMessageError(func(e wire.MessageError) { messageErrs = append(messageErrs, e.Error) })

	d.HandleEnvelope(envelope(t, wire.EventSessionError, wire.SessionError{Error: "session limit reached"}))
	d.HandleEnvelope(envelope(t, wire.EventMessageError, wire.MessageError{Error: "message rejected"}))

	if len(sessionErrs) != 1 || sessionErrs[0] != "session limit reached" {
		t.Fatalf("session errors: %v", sessionErrs)
	}
	if len(messageErrs) != 1 || messageErrs[0] != "message rejected" {
		t.Fatalf("message errors: %v", messageErrs)
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	testlog.Start(t)
	d := New("test", zerolog.Nop())
	d.HandleEnvelope(wire.Envelope{Event: "totally-unknown"})
}
