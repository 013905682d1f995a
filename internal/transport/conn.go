package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/danmuck/chatctl/internal/feed"
	"github.com/danmuck/chatctl/internal/observability"
	"github.com/danmuck/chatctl/internal/wire"
)

var (
	ErrURLRequired       = errors.New("transport: hub url required")
	ErrNotConnected      = errors.New("transport: not connected")
	ErrConnectionClosed  = errors.New("transport: connection closed")
	ErrConnectInProgress = errors.New("transport: connect already in progress")
	ErrAckTimeout        = errors.New("transport: ack timeout")
	ErrReconnectFailed   = errors.New("transport: reconnect attempts exhausted")
)

// State is the coarse connection signal. Connected and Connecting are never
// both true. Mutated only by Conn's own handlers; everyone else observes it
// via SubscribeState.
type State struct {
	Connected         bool
	Connecting        bool
	LastError         error
	ReconnectAttempts int
}

// Config defines transport reliability behavior.
type Config struct {
	URL                  string
	App                  string
	ConnectTimeout       time.Duration
	WriteTimeout         time.Duration
	AckTimeout           time.Duration
	MaxReconnectAttempts int
	Backoff              BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		App:                  "chatctl",
		ConnectTimeout:       10 * time.Second,
		WriteTimeout:         10 * time.Second,
		AckTimeout:           10 * time.Second,
		MaxReconnectAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 500 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     10 * time.Second,
			Jitter:       true,
		},
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.App) == "" {
		c.App = def.App
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return ErrURLRequired
	}
	return nil
}

type ackResult struct {
	ack wire.Ack
	err error
}

// Conn is one logical connection to a hub. It survives transient drops by
// reconnecting with bounded backoff; a user Disconnect is final until the
// next Connect.
type Conn struct {
	cfg Config
	log zerolog.Logger

	stateFeed *feed.Feed[State]
	pushFeed  *feed.Feed[wire.Envelope]

	mu      sync.Mutex
	ws      *websocket.Conn
	state   State
	closing bool
	gen     uint64
	quit    chan struct{}
	rng     *rand.Rand

	writeMu sync.Mutex

	ackMu   sync.Mutex
	nextAck int64
	pending map[int64]chan ackResult
}

func New(cfg Config, logger zerolog.Logger) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()
	return &Conn{
		cfg:       cfg,
		log:       logger.With().Str("component", "transport").Logger(),
		stateFeed: feed.New[State](),
		pushFeed:  feed.New[wire.Envelope](),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		pending:   make(map[int64]chan ackResult),
	}, nil
}

// State returns a snapshot of the connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubscribeState registers a state listener and returns its unsubscribe handle.
func (c *Conn) SubscribeState(fn func(State)) func() {
	return c.stateFeed.Subscribe(fn)
}

// SubscribePush registers a listener for unacknowledged server pushes.
func (c *Conn) SubscribePush(fn func(wire.Envelope)) func() {
	return c.pushFeed.Subscribe(fn)
}

// Connect is idempotent: a live connection is reused as-is, with no repeated
// register-client emission.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Connected {
		c.mu.Unlock()
		return nil
	}
	if c.state.Connecting {
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	c.closing = false
	c.quit = make(chan struct{})
	// Claim the connecting slot before releasing the lock so a concurrent
	// Connect cannot dial a second socket.
	c.state.Connecting = true
	c.state.LastError = nil
	snapshot := c.state
	c.mu.Unlock()
	c.stateFeed.Notify(snapshot)

	ws, err := c.dial(ctx)
	if err != nil {
		observability.RecordConnect(c.cfg.App, false)
		c.transition(func(s *State) {
			s.Connecting = false
			s.LastError = err
		})
		return fmt.Errorf("transport: connect %s: %w", c.cfg.URL, err)
	}
	c.adopt(ws)
	return nil
}

// Disconnect tears the connection down, rejects every pending acknowledged
// request with ErrConnectionClosed, and resets the state to its initial
// values. It is the universal cancellation primitive.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.closing = true
	ws := c.ws
	c.ws = nil
	if c.quit != nil {
		close(c.quit)
		c.quit = nil
	}
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}
	c.failPending(ErrConnectionClosed)
	c.transition(func(s *State) {
		*s = State{}
	})
}

// ForceReconnect disconnects and immediately reconnects.
func (c *Conn) ForceReconnect(ctx context.Context) error {
	c.Disconnect()
	return c.Connect(ctx)
}

// Emit sends one fire-and-forget event.
func (c *Conn) Emit(event string, payload any) error {
	raw, err := wire.Encode(event, 0, payload)
	if err != nil {
		return err
	}
	return c.write(raw)
}

// Request sends one acknowledged event and waits for its ack, the timeout,
// or ctx, whichever comes first. A non-positive timeout uses the configured
// ack timeout.
func (c *Conn) Request(ctx context.Context, event string, payload any, timeout time.Duration) (wire.Ack, error) {
	if timeout <= 0 {
		timeout = c.cfg.AckTimeout
	}

	c.ackMu.Lock()
	c.nextAck++
	id := c.nextAck
	ch := make(chan ackResult, 1)
	c.pending[id] = ch
	c.ackMu.Unlock()

	raw, err := wire.Encode(event, id, payload)
	if err != nil {
		c.dropPending(id)
		return wire.Ack{}, err
	}
	if err := c.write(raw); err != nil {
		c.dropPending(id)
		return wire.Ack{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.ack, res.err
	case <-timer.C:
		c.dropPending(id)
		return wire.Ack{}, fmt.Errorf("%w: %s after %v", ErrAckTimeout, event, timeout)
	case <-ctx.Done():
		c.dropPending(id)
		return wire.Ack{}, ctx.Err()
	}
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	ws, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(wire.MaxEnvelopeBytes)
	return ws, nil
}

// adopt installs a freshly dialed socket, announces the connected state, and
// identifies this client to the hub.
func (c *Conn) adopt(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	observability.RecordConnect(c.cfg.App, true)
	c.transition(func(s *State) {
		s.Connected = true
		s.Connecting = false
		s.LastError = nil
		s.ReconnectAttempts = 0
	})

	go c.readPump(ws, gen)

	if err := c.Emit(wire.EventRegisterClient, wire.RegisterClient{Type: wire.ClientTypeChatbot}); err != nil {
		c.log.Warn().Err(err).Msg("register-client emit failed")
	}
}

func (c *Conn) readPump(ws *websocket.Conn, gen uint64) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			c.handleReadError(ws, gen, err)
			return
		}
		env, err := wire.Decode(raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		if env.Event == wire.EventAck {
			c.resolveAck(env)
			continue
		}
		c.pushFeed.Notify(env)
	}
}

func (c *Conn) handleReadError(ws *websocket.Conn, gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen || c.closing {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	quit := c.quit
	c.mu.Unlock()

	_ = ws.Close()
	c.log.Warn().Err(err).Msg("connection lost")
	c.failPending(ErrConnectionClosed)
	c.transition(func(s *State) {
		s.Connected = false
		s.Connecting = false
		s.LastError = err
	})
	go c.reconnectLoop(quit)
}

// reconnectLoop retries with exponential backoff until it adopts a new
// socket, exhausts the attempt budget, or the user disconnects. Exhaustion is
// terminal and surfaces through the state signal only.
func (c *Conn) reconnectLoop(quit chan struct{}) {
	if quit == nil {
		return
	}
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-quit:
			return
		default:
		}

		observability.RecordReconnectAttempt(c.cfg.App)
		c.transition(func(s *State) {
			s.Connecting = true
			s.ReconnectAttempts = attempt
		})

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		ws, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.mu.Lock()
			if c.closing {
				c.mu.Unlock()
				_ = ws.Close()
				return
			}
			c.mu.Unlock()
			c.adopt(ws)
			return
		}

		lastErr = err
		observability.RecordConnect(c.cfg.App, false)
		c.log.Warn().Int("attempt", attempt).Err(err).Msg("reconnect attempt failed")

		delay := NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)
		timer := time.NewTimer(delay)
		select {
		case <-quit:
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	c.transition(func(s *State) {
		s.Connecting = false
		s.LastError = fmt.Errorf("%w after %d attempts: %v", ErrReconnectFailed, c.cfg.MaxReconnectAttempts, lastErr)
	})
}

func (c *Conn) write(raw []byte) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.state.Connected
	c.mu.Unlock()
	if ws == nil || !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return ws.WriteMessage(websocket.TextMessage, raw)
}

func (c *Conn) resolveAck(env wire.Envelope) {
	ack, err := wire.DecodeAck(env)

	c.ackMu.Lock()
	ch, ok := c.pending[env.AckID]
	if ok {
		delete(c.pending, env.AckID)
	}
	c.ackMu.Unlock()

	if !ok {
		c.log.Debug().Int64("ack_id", env.AckID).Msg("ack without pending request")
		return
	}
	ch <- ackResult{ack: ack, err: err}
}

func (c *Conn) dropPending(id int64) {
	c.ackMu.Lock()
	delete(c.pending, id)
	c.ackMu.Unlock()
}

func (c *Conn) failPending(err error) {
	c.ackMu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan ackResult)
	c.ackMu.Unlock()

	for _, ch := range pending {
		ch <- ackResult{err: err}
	}
}

func (c *Conn) transition(mutate func(*State)) {
	c.mu.Lock()
	mutate(&c.state)
	snapshot := c.state
	c.mu.Unlock()
	c.stateFeed.Notify(snapshot)
}
