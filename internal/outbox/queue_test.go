package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/chatctl/internal/chat"
	"github.com/danmuck/chatctl/internal/testutil/testlog"
	"github.com/danmuck/chatctl/internal/transport"
	"github.com/danmuck/chatctl/internal/wire"
)

// fakeSender scripts ack outcomes per message id. failuresFor[id] is how many
// attempts fail before one succeeds. Messages in holdFor block in flight
// until disconnect() and then fail like a pending transport request.
type fakeSender struct {
	mu          sync.Mutex
	connected   bool
	down        chan struct{}
	failuresFor map[string]int
	holdFor     map[string]bool
	attempts    map[string]int
	sentOrder   []string
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		connected:   true,
		down:        make(chan struct{}),
		failuresFor: make(map[string]int),
		holdFor:     make(map[string]bool),
		attempts:    make(map[string]int),
	}
}

func (f *fakeSender) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return transport.State{Connected: f.connected}
}

func (f *fakeSender) disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.connected = false
		close(f.down)
	}
}

func (f *fakeSender) attemptCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[id]
}

func (f *fakeSender) Request(_ context.Context, event string, payload any, _ time.Duration) (wire.Ack, error) {
	msg, ok := payload.(chat.Message)
	if !ok || event != wire.EventSendMessage {
		return wire.Ack{}, errors.New("unexpected request")
	}

	f.mu.Lock()
	f.attempts[msg.ID]++
	if !f.connected {
		f.mu.Unlock()
		return wire.Ack{}, transport.ErrNotConnected
	}
	if f.holdFor[msg.ID] {
		down := f.down
		f.mu.Unlock()
		<-down
		return wire.Ack{}, transport.ErrConnectionClosed
	}
	defer f.mu.Unlock()
	if f.attempts[msg.ID] <= f.failuresFor[msg.ID] {
		return wire.Ack{Success: false, Error: "hub unavailable"}, nil
	}
	f.sentOrder = append(f.sentOrder, msg.ID)
	echoed := msg
	echoed.CreatedAt = time.Now().UTC()
	return wire.Ack{Success: true, Message: &echoed}, nil
}

func (f *fakeSender) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sentOrder))
	copy(out, f.sentOrder)
	return out
}

func fastConfig() Config {
	return Config{
		MaxAttempts:    3,
		AttemptTimeout: time.Second,
		RetryDelay:     time.Millisecond,
	}
}

func mustMessage(t *testing.T, text string) chat.Message {
	t.Helper()
	msg, err := chat.NewUserMessage("session.1", text)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	return msg
}

func TestEnqueueDeliversInOrder(t *testing.T) {
	testlog.Start(t)
	sender := newFakeSender()
	q := New(fastConfig(), sender, zerolog.Nop())
	defer q.Close()

	var results []<-chan Result
	var ids []string
	for _, text := range []string{"first", "second", "third"} {
		msg := mustMessage(t, text)
		ids = append(ids, msg.ID)
		results = append(results, q.Enqueue(msg))
	}
	for i, done := range results {
		res := <-done
		if res.Err != nil {
			t.Fatalf("message %d failed: %v", i, res.Err)
		}
		if res.Message.Failed {
			t.Fatalf("delivered message marked failed: %+v", res.Message)
		}
	}

	order := sender.order()
	if len(order) != 3 {
		t.Fatalf("expected 3 deliveries, got %v", order)
	}
	for i, id := range ids {
		if order[i] != id {
			t.Fatalf("delivery out of order: want %v got %v", ids, order)
		}
	}
}

func TestRetriesDoNotReorderQueue(t *testing.T) {
	testlog.Start(t)
	sender := newFakeSender()
	q := New(fastConfig(), sender, zerolog.Nop())
	defer q.Close()

	first := mustMessage(t, "needs retries")
	second := mustMessage(t, "right behind")
	sender.failuresFor[first.ID] = 2

	doneFirst := q.Enqueue(first)
	doneSecond := q.Enqueue(second)

	if res := <-doneFirst; res.Err != nil {
		t.Fatalf("first message should succeed on attempt 3: %v", res.Err)
	}
	if res := <-doneSecond; res.Err != nil {
		t.Fatalf("second message failed: %v", res.Err)
	}

	order := sender.order()
	if len(order) != 2 || order[0] != first.ID || order[1] != second.ID {
		t.Fatalf("retries reordered delivery: %v", order)
	}
	if got := sender.attempts[first.ID]; got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestExhaustedRetriesMarkMessageFailed(t *testing.T) {
	testlog.Start(t)
	sender := newFakeSender()
	q := New(fastConfig(), sender, zerolog.Nop())
	defer q.Close()

	msg := mustMessage(t, "never lands")
	sender.failuresFor[msg.ID] = 99

	res := <-q.Enqueue(msg)
	if !errors.Is(res.Err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", res.Err)
	}
	if !res.Message.Failed {
		t.Fatalf("exhausted message not marked failed")
	}
	if got := sender.attempts[msg.ID]; got != 3 {
		t.Fatalf("retry bound violated: %d attempts", got)
	}
}

func TestEnqueueWhileDisconnectedFailsImmediately(t *testing.T) {
	testlog.Start(t)
	sender := newFakeSender()
	sender.connected = false
	q := New(fastConfig(), sender, zerolog.Nop())
	defer q.Close()

	res := <-q.Enqueue(mustMessage(t, "hello"))
	if !errors.Is(res.Err, transport.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", res.Err)
	}
	if !res.Message.Failed {
		t.Fatalf("rejected message not marked failed")
	}
	if q.Len() != 0 {
		t.Fatalf("rejected message entered the queue")
	}
	if got := len(sender.order()); got != 0 {
		t.Fatalf("no delivery should have been attempted, got %d", got)
	}
}

func TestDisconnectCancelsInFlightAndQueuedSends(t *testing.T) {
	testlog.Start(t)
	sender := newFakeSender()
	cfg := fastConfig()
	cfg.RetryDelay = 100 * time.Millisecond
	q := New(cfg, sender, zerolog.Nop())
	defer q.Close()

	first := mustMessage(t, "in flight when the socket drops")
	second := mustMessage(t, "still queued behind it")
	sender.mu.Lock()
	sender.holdFor[first.ID] = true
	sender.mu.Unlock()

	doneFirst := q.Enqueue(first)
	doneSecond := q.Enqueue(second)

	deadline := time.Now().Add(2 * time.Second)
	for sender.attemptCount(first.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("first delivery attempt never started")
		}
		time.Sleep(time.Millisecond)
	}

	start := time.Now()
	sender.disconnect()

	res := <-doneFirst
	if !errors.Is(res.Err, transport.ErrConnectionClosed) {
		t.Fatalf("in-flight send: expected ErrConnectionClosed, got %v", res.Err)
	}
	if !res.Message.Failed {
		t.Fatalf("cancelled message not marked failed")
	}

	res = <-doneSecond
	if !errors.Is(res.Err, transport.ErrNotConnected) {
		t.Fatalf("queued send: expected ErrNotConnected, got %v", res.Err)
	}
	if !res.Message.Failed {
		t.Fatalf("rejected message not marked failed")
	}

	if elapsed := time.Since(start); elapsed >= cfg.RetryDelay {
		t.Fatalf("rejection waited on retry delays: %v", elapsed)
	}
	if got := sender.attemptCount(first.ID); got != 1 {
		t.Fatalf("cancelled message was retried: %d attempts", got)
	}
	if got := sender.attemptCount(second.ID); got > 1 {
		t.Fatalf("queued message was retried while disconnected: %d attempts", got)
	}
}

func TestEnqueueRejectsInvalidMessage(t *testing.T) {
	testlog.Start(t)
	sender := newFakeSender()
	q := New(fastConfig(), sender, zerolog.Nop())
	defer q.Close()

	res := <-q.Enqueue(chat.Message{ID: "m.1", SessionID: "s.1", Sender: chat.SenderUser})
	if !errors.Is(res.Err, chat.ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", res.Err)
	}
}

func TestCloseRejectsQueuedMessages(t *testing.T) {
	testlog.Start(t)
	sender := newFakeSender()
	q := New(fastConfig(), sender, zerolog.Nop())

	q.Close()
	res := <-q.Enqueue(mustMessage(t, "after close"))
	if !errors.Is(res.Err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", res.Err)
	}
	// Close is idempotent.
	q.Close()
}
