package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/chatctl/internal/chat"
	"github.com/danmuck/chatctl/internal/testutil/testlog"
)

func TestEncodeDecodeEnvelope(t *testing.T) {
	testlog.Start(t)
	raw, err := Encode(EventJoinSession, 7, "s.1")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Event != EventJoinSession || env.AckID != 7 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	var sessionID string
	if err := env.DecodeData(&sessionID); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if sessionID != "s.1" {
		t.Fatalf("unexpected join payload: %q", sessionID)
	}
}

func TestDecodeRejectsMissingEvent(t *testing.T) {
	testlog.Start(t)
	if _, err := Decode([]byte(`{"ackId":3}`)); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}
	if _, err := Decode([]byte(`{not json`)); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope for malformed json, got %v", err)
	}
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	testlog.Start(t)
	raw := append([]byte(`{"event":"x","data":"`), bytes.Repeat([]byte("a"), MaxEnvelopeBytes)...)
	raw = append(raw, []byte(`"}`)...)
	if _, err := Decode(raw); !errors.Is(err, ErrEnvelopeTooBig) {
		t.Fatalf("expected ErrEnvelopeTooBig, got %v", err)
	}
}

func TestDecodeAckSuccessWithMessage(t *testing.T) {
	testlog.Start(t)
	msg := chat.Message{ID: "m.1", SessionID: "s.1", Sender: chat.SenderUser, Message: "hi"}
	raw, err := Encode(EventAck, 11, Ack{Success: true, Message: &msg})
	if err != nil {
		t.Fatalf("encode ack: %v", err)
	}
	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode ack envelope: %v", err)
	}
	ack, err := DecodeAck(env)
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack.Success || ack.Message == nil || ack.Message.ID != "m.1" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if ack.Err() != nil {
		t.Fatalf("successful ack must not map to an error")
	}
}

func TestDecodeAckFailureRequiresReason(t *testing.T) {
	testlog.Start(t)
	env := Envelope{Event: EventAck, AckID: 4, Data: []byte(`{"success":false}`)}
	if _, err := DecodeAck(env); !errors.Is(err, ErrInvalidAck) {
		t.Fatalf("expected ErrInvalidAck, got %v", err)
	}

	env.Data = []byte(`{"success":false,"error":"room full"}`)
	ack, err := DecodeAck(env)
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ackErr := ack.Err(); ackErr == nil || !errors.Is(ackErr, ErrInvalidAck) {
		t.Fatalf("expected rejection error, got %v", ackErr)
	}
}

func TestDecodeAckRejectsWrongShape(t *testing.T) {
	testlog.Start(t)
	if _, err := DecodeAck(Envelope{Event: EventNewMessage, AckID: 2}); !errors.Is(err, ErrInvalidAck) {
		t.Fatalf("expected ErrInvalidAck for wrong event, got %v", err)
	}
	if _, err := DecodeAck(Envelope{Event: EventAck, Data: []byte(`{"success":true}`)}); !errors.Is(err, ErrInvalidAck) {
		t.Fatalf("expected ErrInvalidAck for missing ack id, got %v", err)
	}
}
