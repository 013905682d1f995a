package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/chatctl/internal/chat"
	"github.com/danmuck/chatctl/internal/observability"
	"github.com/danmuck/chatctl/internal/transport"
	"github.com/danmuck/chatctl/internal/wire"
)

var (
	ErrDeliveryFailed = errors.New("outbox: message delivery failed")
	ErrQueueClosed    = errors.New("outbox: queue closed")
)

// Sender is the slice of the transport the queue needs. *transport.Conn
// satisfies it.
type Sender interface {
	State() transport.State
	Request(ctx context.Context, event string, payload any, timeout time.Duration) (wire.Ack, error)
}

// Config defines per-message delivery behavior.
type Config struct {
	App            string
	MaxAttempts    int
	AttemptTimeout time.Duration
	RetryDelay     time.Duration
}

func DefaultConfig() Config {
	return Config{
		App:            "chatctl",
		MaxAttempts:    3,
		AttemptTimeout: 10 * time.Second,
		RetryDelay:     time.Second,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.App) == "" {
		c.App = def.App
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = def.AttemptTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	return c
}

// Result reports the final fate of one enqueued message. On success Message
// carries the server-acknowledged copy; on failure it carries the local copy
// with Failed set.
type Result struct {
	Message chat.Message
	Err     error
}

type item struct {
	msg  chat.Message
	done chan Result
}

// Queue is a strict FIFO outbound message queue with one delivery worker.
type Queue struct {
	cfg    Config
	sender Sender
	log    zerolog.Logger

	mu     sync.Mutex
	items  []item
	wake   chan struct{}
	quit   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

func New(cfg Config, sender Sender, logger zerolog.Logger) *Queue {
	q := &Queue{
		cfg:    cfg.WithDefaults(),
		sender: sender,
		log:    logger.With().Str("component", "outbox").Logger(),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

// Enqueue appends one message for delivery and returns a channel that yields
// its final result. A message enqueued while disconnected fails immediately
// and never enters the queue; the queue stays empty for later sends.
func (q *Queue) Enqueue(msg chat.Message) <-chan Result {
	done := make(chan Result, 1)

	if err := msg.Validate(); err != nil {
		msg.Failed = true
		done <- Result{Message: msg, Err: err}
		return done
	}
	if !q.sender.State().Connected {
		msg.Failed = true
		observability.RecordMessageSent(q.cfg.App, "rejected")
		done <- Result{Message: msg, Err: transport.ErrNotConnected}
		return done
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		msg.Failed = true
		done <- Result{Message: msg, Err: ErrQueueClosed}
		return done
	}
	q.items = append(q.items, item{msg: msg, done: done})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return done
}

// Len reports how many messages are waiting or in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the worker and rejects everything still queued.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.quit)
	q.mu.Unlock()

	q.wg.Wait()

	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	for _, it := range items {
		it.msg.Failed = true
		it.done <- Result{Message: it.msg, Err: ErrQueueClosed}
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		var head item
		ok := len(q.items) > 0
		if ok {
			head = q.items[0]
		}
		q.mu.Unlock()

		if !ok {
			select {
			case <-q.quit:
				return
			case <-q.wake:
				continue
			}
		}

		res := q.deliver(head.msg)

		q.mu.Lock()
		if len(q.items) > 0 {
			q.items = q.items[1:]
		}
		q.mu.Unlock()
		head.done <- res

		select {
		case <-q.quit:
			return
		default:
		}
	}
}

// deliver runs the bounded retry loop for one message. Each attempt restamps
// the local timestamp so a retried message sorts by its actual send time.
func (q *Queue) deliver(msg chat.Message) Result {
	var lastErr error
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			observability.RecordMessageRetry(q.cfg.App)
			timer := time.NewTimer(time.Duration(attempt-1) * q.cfg.RetryDelay)
			select {
			case <-q.quit:
				timer.Stop()
				msg.Failed = true
				return Result{Message: msg, Err: ErrQueueClosed}
			case <-timer.C:
			}
		}

		msg.CreatedAt = time.Now().UTC()
		ack, err := q.sender.Request(context.Background(), wire.EventSendMessage, msg, q.cfg.AttemptTimeout)
		if err == nil {
			err = ack.Err()
		}
		if err == nil {
			observability.RecordMessageSent(q.cfg.App, "ok")
			if ack.Message != nil {
				return Result{Message: *ack.Message}
			}
			return Result{Message: msg}
		}

		// A torn-down connection is a cancellation, not a transient hub
		// failure. It fails the message at once, skipping the retry budget.
		if errors.Is(err, transport.ErrConnectionClosed) || errors.Is(err, transport.ErrNotConnected) {
			observability.RecordMessageSent(q.cfg.App, "rejected")
			msg.Failed = true
			q.log.Warn().Str("message_id", msg.ID).Err(err).Msg("delivery cancelled by disconnect")
			return Result{Message: msg, Err: err}
		}

		lastErr = err
		q.log.Warn().
			Str("message_id", msg.ID).
			Int("attempt", attempt).
			Err(err).
			Msg("message delivery attempt failed")
	}

	observability.RecordMessageSent(q.cfg.App, "failed")
	msg.Failed = true
	return Result{Message: msg, Err: fmt.Errorf("%w: %s after %d attempts: %v", ErrDeliveryFailed, msg.ID, q.cfg.MaxAttempts, lastErr)}
}
