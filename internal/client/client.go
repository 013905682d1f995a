package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/danmuck/chatctl/internal/chat"
	"github.com/danmuck/chatctl/internal/dispatch"
	"github.com/danmuck/chatctl/internal/feed"
	"github.com/danmuck/chatctl/internal/outbox"
	"github.com/danmuck/chatctl/internal/transport"
	"github.com/danmuck/chatctl/internal/wire"
)

var (
	ErrNoSession         = errors.New("client: no session")
	ErrSessionClosed     = errors.New("client: session closed")
	ErrNegotiateTimeout  = errors.New("client: session negotiation timed out")
	ErrNegotiateBusy     = errors.New("client: negotiation already in progress")
	ErrRetriesExhausted  = errors.New("client: session retries exhausted")
	ErrNegotiateRejected = errors.New("client: session rejected by hub")
	ErrTransportRequired = errors.New("client: transport required")
)

// Status is the coarse lifecycle signal a UI renders from.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusWaiting    Status = "waiting"
	StatusActive     Status = "active"
	StatusClosed     Status = "closed"
	StatusError      Status = "error"
)

// Snapshot is one observable point of the client lifecycle.
type Snapshot struct {
	Status      Status
	SessionID   string
	AgentName   string
	RetriesLeft int
	Err         error
}

// Transport is the slice of the connection the client needs.
// *transport.Conn satisfies it.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect()
	State() transport.State
	SubscribeState(fn func(transport.State)) func()
	SubscribePush(fn func(wire.Envelope)) func()
	Request(ctx context.Context, event string, payload any, timeout time.Duration) (wire.Ack, error)
}

type Config struct {
	App              string
	NegotiateTimeout time.Duration
	SessionRetries   int
	Outbox           outbox.Config
}

func DefaultConfig() Config {
	return Config{
		App:              "chatctl",
		NegotiateTimeout: 15 * time.Second,
		SessionRetries:   3,
		Outbox:           outbox.DefaultConfig(),
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.App) == "" {
		c.App = def.App
	}
	if c.NegotiateTimeout <= 0 {
		c.NegotiateTimeout = def.NegotiateTimeout
	}
	if c.SessionRetries <= 0 {
		c.SessionRetries = def.SessionRetries
	}
	c.Outbox = c.Outbox.WithDefaults()
	return c
}

// Client is one chat session lifecycle over one transport connection.
type Client struct {
	cfg    Config
	log    zerolog.Logger
	conn   Transport
	queue  *outbox.Queue
	events *dispatch.Dispatcher

	statusFeed *feed.Feed[Snapshot]

	mu          sync.Mutex
	snap        Snapshot
	session     chat.Session
	hasSession  bool
	negotiating bool
	closed      bool

	unsubs []func()
}

func New(cfg Config, conn Transport, logger zerolog.Logger) (*Client, error) {
	if conn == nil {
		return nil, ErrTransportRequired
	}
	cfg = cfg.WithDefaults()
	c := &Client{
		cfg:        cfg,
		log:        logger.With().Str("component", "client").Logger(),
		conn:       conn,
		queue:      outbox.New(cfg.Outbox, conn, logger),
		events:     dispatch.New(cfg.App, logger),
		statusFeed: feed.New[Snapshot](),
		snap:       Snapshot{Status: StatusIdle, RetriesLeft: cfg.SessionRetries},
	}

	c.unsubs = append(c.unsubs,
		conn.SubscribePush(c.events.HandleEnvelope),
		conn.SubscribeState(c.onTransportState),
		c.events.OnAgentJoined(c.onAgentJoined),
		c.events.OnSessionClosed(c.onSessionClosed),
		c.events.OnSessionError(c.onSessionError),
	)
	return c, nil
}

// Events exposes the typed inbound event registry, for message rendering and
// error surfaces beyond the lifecycle signal.
func (c *Client) Events() *dispatch.Dispatcher {
	return c.events
}

// Subscribe registers a lifecycle listener and returns its unsubscribe handle.
func (c *Client) Subscribe(fn func(Snapshot)) func() {
	return c.statusFeed.Subscribe(fn)
}

// State returns the current lifecycle snapshot.
func (c *Client) State() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Session returns the current session, hub-confirmed once negotiation has
// succeeded, and whether one exists.
func (c *Client) Session() (chat.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.hasSession
}

// Connect establishes the transport connection. The lifecycle stays in
// connecting until a session is negotiated.
func (c *Client) Connect(ctx context.Context) error {
	c.transition(func(s *Snapshot) {
		s.Status = StatusConnecting
		s.Err = nil
	})
	if err := c.conn.Connect(ctx); err != nil {
		c.transition(func(s *Snapshot) {
			s.Status = StatusError
			s.Err = err
		})
		return err
	}
	return nil
}

// StartSession negotiates the given draft with the hub: create-session, then
// join-session, both under one wall clock. On success the lifecycle moves to
// waiting and the draft becomes the current session.
func (c *Client) StartSession(ctx context.Context, draft chat.Session) error {
	if err := draft.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSessionClosed
	}
	if c.negotiating {
		c.mu.Unlock()
		return ErrNegotiateBusy
	}
	c.negotiating = true
	c.session = draft
	c.hasSession = true
	c.mu.Unlock()

	c.transition(func(s *Snapshot) {
		s.Status = StatusConnecting
		s.SessionID = draft.ID
		s.Err = nil
	})

	confirmed, err := c.negotiate(ctx, draft)

	c.mu.Lock()
	c.negotiating = false
	if err == nil {
		c.session = confirmed
	}
	c.mu.Unlock()

	if err != nil {
		c.transition(func(s *Snapshot) {
			s.Status = StatusError
			s.SessionID = draft.ID
			s.Err = err
		})
		return err
	}

	c.transition(func(s *Snapshot) {
		s.Status = StatusWaiting
		s.SessionID = draft.ID
		s.AgentName = ""
		s.Err = nil
	})
	c.log.Info().Str("session_id", draft.ID).Msg("session negotiated")
	return nil
}

// Retry renegotiates after a failed StartSession under a fresh session id,
// consuming one unit of the retry budget. An exhausted budget is terminal.
func (c *Client) Retry(ctx context.Context) error {
	c.mu.Lock()
	if !c.hasSession {
		c.mu.Unlock()
		return ErrNoSession
	}
	if c.snap.RetriesLeft <= 0 {
		c.mu.Unlock()
		return ErrRetriesExhausted
	}
	draft := c.session
	c.mu.Unlock()

	c.transition(func(s *Snapshot) {
		s.RetriesLeft--
	})

	now := time.Now().UTC()
	draft.ID = uuid.NewString()
	draft.Status = chat.SessionWaiting
	draft.CreatedAt = now
	draft.UpdatedAt = now
	return c.StartSession(ctx, draft)
}

func (c *Client) negotiate(ctx context.Context, draft chat.Session) (chat.Session, error) {
	if !c.conn.State().Connected {
		return draft, transport.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.NegotiateTimeout)
	defer cancel()

	ack, err := c.conn.Request(ctx, wire.EventCreateSession, draft, c.cfg.NegotiateTimeout)
	if err != nil {
		return draft, c.negotiateErr("create-session", err)
	}
	if err := ack.Err(); err != nil {
		return draft, fmt.Errorf("%w: %v", ErrNegotiateRejected, err)
	}
	// Status and timestamps are hub-driven from here on; only the
	// client-minted id stays authoritative.
	confirmed := draft
	if ack.Session != nil {
		confirmed = *ack.Session
		confirmed.ID = draft.ID
	}

	ack, err = c.conn.Request(ctx, wire.EventJoinSession, draft.ID, c.cfg.NegotiateTimeout)
	if err != nil {
		return draft, c.negotiateErr("join-session", err)
	}
	if err := ack.Err(); err != nil {
		return draft, fmt.Errorf("%w: %v", ErrNegotiateRejected, err)
	}
	return confirmed, nil
}

func (c *Client) negotiateErr(phase string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, transport.ErrAckTimeout) {
		return fmt.Errorf("%w: %s after %v", ErrNegotiateTimeout, phase, c.cfg.NegotiateTimeout)
	}
	return fmt.Errorf("client: %s: %w", phase, err)
}

// Send enqueues one user message for the current session. Messages are
// accepted while waiting for an agent and while active.
func (c *Client) Send(text string) (<-chan outbox.Result, error) {
	c.mu.Lock()
	status := c.snap.Status
	sessionID := c.session.ID
	hasSession := c.hasSession
	c.mu.Unlock()

	if !hasSession {
		return nil, ErrNoSession
	}
	if status != StatusWaiting && status != StatusActive {
		return nil, fmt.Errorf("%w: cannot send in status %q", ErrSessionClosed, status)
	}

	msg, err := chat.NewUserMessage(sessionID, text)
	if err != nil {
		return nil, err
	}
	return c.queue.Enqueue(msg), nil
}

// Close tears the client down. It is terminal and idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	// Disconnect first: it cancels the in-flight send, so the queue worker
	// finishes immediately instead of running out its retry budget.
	c.conn.Disconnect()
	c.queue.Close()
	c.transition(func(s *Snapshot) {
		s.Status = StatusClosed
	})
}

func (c *Client) onAgentJoined(joined wire.AgentJoined) {
	c.mu.Lock()
	match := c.hasSession && c.session.ID == joined.SessionID
	c.mu.Unlock()
	if !match {
		return
	}
	c.transitionLive(func(s *Snapshot) {
		s.Status = StatusActive
		s.AgentName = joined.AgentName
	})
	c.log.Info().Str("agent", joined.AgentName).Msg("agent joined session")
}

func (c *Client) onSessionClosed(closed wire.SessionClosed) {
	c.mu.Lock()
	match := c.hasSession && c.session.ID == closed.SessionID
	c.mu.Unlock()
	if !match {
		return
	}
	c.transition(func(s *Snapshot) {
		s.Status = StatusClosed
		s.AgentName = ""
	})
	c.log.Info().Str("session_id", closed.SessionID).Msg("session closed by hub")
}

func (c *Client) onSessionError(serr wire.SessionError) {
	c.transitionLive(func(s *Snapshot) {
		s.Status = StatusError
		s.Err = fmt.Errorf("client: hub session error: %s", serr.Error)
	})
}

// onTransportState folds connection signals into the lifecycle. A terminal
// reconnect failure surfaces as an error status; a successful reconnect
// re-joins the current session room.
func (c *Client) onTransportState(state transport.State) {
	c.mu.Lock()
	status := c.snap.Status
	hasSession := c.hasSession
	sessionID := c.session.ID
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	if !state.Connected && !state.Connecting && errors.Is(state.LastError, transport.ErrReconnectFailed) {
		if status == StatusWaiting || status == StatusActive || status == StatusConnecting {
			c.transitionLive(func(s *Snapshot) {
				s.Status = StatusError
				s.Err = state.LastError
			})
		}
		return
	}

	if state.Connected && state.ReconnectAttempts == 0 && hasSession &&
		(status == StatusWaiting || status == StatusActive) {
		go c.rejoin(sessionID)
	}
}

func (c *Client) rejoin(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.NegotiateTimeout)
	defer cancel()
	ack, err := c.conn.Request(ctx, wire.EventJoinSession, sessionID, c.cfg.NegotiateTimeout)
	if err == nil {
		err = ack.Err()
	}
	if err != nil {
		c.log.Warn().Str("session_id", sessionID).Err(err).Msg("session rejoin failed")
		return
	}
	c.log.Info().Str("session_id", sessionID).Msg("session rejoined after reconnect")
}

func (c *Client) transition(mutate func(*Snapshot)) {
	c.mu.Lock()
	mutate(&c.snap)
	snapshot := c.snap
	c.mu.Unlock()
	c.statusFeed.Notify(snapshot)
}

// transitionLive applies mutate unless the lifecycle already reached closed.
// Closed is terminal; at-least-once delivery means late or duplicate pushes
// arrive after it and must not revive the session.
func (c *Client) transitionLive(mutate func(*Snapshot)) {
	c.mu.Lock()
	if c.snap.Status == StatusClosed {
		c.mu.Unlock()
		return
	}
	mutate(&c.snap)
	snapshot := c.snap
	c.mu.Unlock()
	c.statusFeed.Notify(snapshot)
}
