package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/chatctl/internal/chat"
)

// Client -> hub events.
const (
	EventRegisterClient = "register-client"
	EventCreateSession  = "create-session"
	// EventJoinSession carries the bare session id as its data.
	EventJoinSession = "join-session"
	EventSendMessage = "send-message"
)

// Hub -> client events.
const (
	EventAck            = "ack"
	EventSessionCreated = "session-created"
	EventNewMessage     = "new-message"
	EventAgentJoined    = "agent-joined"
	EventSessionClosed  = "session-closed"
	EventSessionError   = "session-error"
	EventMessageError   = "message-error"
)

var (
	ErrInvalidEnvelope = errors.New("wire: invalid envelope")
	ErrInvalidAck      = errors.New("wire: invalid ack")
	ErrEnvelopeTooBig  = errors.New("wire: envelope too large")
)

// MaxEnvelopeBytes bounds one decoded envelope frame.
const MaxEnvelopeBytes = 128 * 1024

// Envelope is one websocket text frame. AckID is non-zero on acknowledged
// client requests and on the matching ack reply.
type Envelope struct {
	Event string          `json:"event"`
	AckID int64           `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Event) == "" {
		return fmt.Errorf("%w: missing event", ErrInvalidEnvelope)
	}
	return nil
}

func Encode(event string, ackID int64, payload any) ([]byte, error) {
	env := Envelope{Event: event, AckID: ackID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal %s data: %v", ErrInvalidEnvelope, event, err)
		}
		env.Data = data
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func Decode(raw []byte) (Envelope, error) {
	if len(raw) > MaxEnvelopeBytes {
		return Envelope{}, ErrEnvelopeTooBig
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into out.
func (e Envelope) DecodeData(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s carries no data", ErrInvalidEnvelope, e.Event)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("%w: decode %s data: %v", ErrInvalidEnvelope, e.Event, err)
	}
	return nil
}

// Ack is the typed result of one acknowledged request, validated once at the
// transport boundary. Exactly one of Session/Message is set on success,
// depending on the request kind; Error is set when Success is false.
type Ack struct {
	Success bool          `json:"success"`
	Session *chat.Session `json:"session,omitempty"`
	Message *chat.Message `json:"message,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Err maps a failed ack onto an error carrying the server-supplied reason.
func (a Ack) Err() error {
	if a.Success {
		return nil
	}
	reason := strings.TrimSpace(a.Error)
	if reason == "" {
		reason = "request rejected"
	}
	return fmt.Errorf("%w: %s", ErrInvalidAck, reason)
}

// DecodeAck validates and decodes one ack envelope.
func DecodeAck(env Envelope) (Ack, error) {
	if env.Event != EventAck {
		return Ack{}, fmt.Errorf("%w: unexpected event %q", ErrInvalidAck, env.Event)
	}
	if env.AckID == 0 {
		return Ack{}, fmt.Errorf("%w: missing ack id", ErrInvalidAck)
	}
	var ack Ack
	if err := env.DecodeData(&ack); err != nil {
		return Ack{}, fmt.Errorf("%w: %v", ErrInvalidAck, err)
	}
	if !ack.Success && strings.TrimSpace(ack.Error) == "" {
		return Ack{}, fmt.Errorf("%w: failure without reason", ErrInvalidAck)
	}
	return ack, nil
}
