package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	ErrInvalidSession = errors.New("chat: invalid session")
	ErrInvalidMessage = errors.New("chat: invalid message")
)

// MaxMessageLen bounds outbound message text, in runes.
const MaxMessageLen = 500

type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
	SenderBot   Sender = "bot"
)

func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderAgent, SenderBot:
		return true
	}
	return false
}

type SessionStatus string

const (
	SessionWaiting SessionStatus = "waiting"
	SessionActive  SessionStatus = "active"
	SessionClosed  SessionStatus = "closed"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionWaiting, SessionActive, SessionClosed:
		return true
	}
	return false
}

// QuestionAnswerPair is one scripted-flow interaction, recorded append-only.
type QuestionAnswerPair struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	StepID         string    `json:"stepId"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Session is one live-chat conversation. The id is client-generated and
// authoritative; status is server-driven after the handshake.
type Session struct {
	ID                  string               `json:"id"`
	UserID              string               `json:"userId"`
	UserEmail           string               `json:"userEmail"`
	UserName            string               `json:"userName"`
	Status              SessionStatus        `json:"status"`
	CreatedAt           time.Time            `json:"createdAt"`
	UpdatedAt           time.Time            `json:"updatedAt"`
	InitialMessage      string               `json:"initialMessage"`
	QuestionAnswerPairs []QuestionAnswerPair `json:"questionAnswerPairs"`
}

func (s Session) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidSession)
	}
	if strings.TrimSpace(s.UserID) == "" {
		return fmt.Errorf("%w: missing userId", ErrInvalidSession)
	}
	if strings.TrimSpace(s.UserEmail) == "" {
		return fmt.Errorf("%w: missing userEmail", ErrInvalidSession)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("%w: invalid status %q", ErrInvalidSession, s.Status)
	}
	return nil
}

// NewSessionDraft mints a client-side session awaiting server confirmation.
// Pairs are copied; the draft never aliases the caller's slice.
func NewSessionDraft(userID, userEmail, userName, initialMessage string, pairs []QuestionAnswerPair) Session {
	now := time.Now().UTC()
	copied := make([]QuestionAnswerPair, len(pairs))
	copy(copied, pairs)
	return Session{
		ID:                  uuid.NewString(),
		UserID:              userID,
		UserEmail:           userEmail,
		UserName:            userName,
		Status:              SessionWaiting,
		CreatedAt:           now,
		UpdatedAt:           now,
		InitialMessage:      initialMessage,
		QuestionAnswerPairs: copied,
	}
}

// Message is one chat message. Identity never changes after creation; only
// Failed and CreatedAt may be updated (the timestamp is reconciled to server
// time on acknowledgment).
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Sender    Sender    `json:"sender"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	Failed    bool      `json:"failed,omitempty"`
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidMessage)
	}
	if strings.TrimSpace(m.SessionID) == "" {
		return fmt.Errorf("%w: missing sessionId", ErrInvalidMessage)
	}
	if !m.Sender.Valid() {
		return fmt.Errorf("%w: invalid sender %q", ErrInvalidMessage, m.Sender)
	}
	if strings.TrimSpace(m.Message) == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidMessage)
	}
	if utf8.RuneCountInString(m.Message) > MaxMessageLen {
		return fmt.Errorf("%w: text exceeds %d characters", ErrInvalidMessage, MaxMessageLen)
	}
	return nil
}

// NewUserMessage builds an outbound user message for one session.
func NewUserMessage(sessionID, text string) (Message, error) {
	msg := Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Sender:    SenderUser,
		Message:   text,
		CreatedAt: time.Now().UTC(),
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}
