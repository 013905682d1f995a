package dispatch

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/chatctl/internal/chat"
	"github.com/danmuck/chatctl/internal/feed"
	"github.com/danmuck/chatctl/internal/observability"
	"github.com/danmuck/chatctl/internal/wire"
)

// Dispatcher fans inbound push envelopes out to typed listeners.
type Dispatcher struct {
	app string
	log zerolog.Logger

	newMessage     *feed.Feed[chat.Message]
	sessionCreated *feed.Feed[chat.Session]
	agentJoined    *feed.Feed[wire.AgentJoined]
	sessionClosed  *feed.Feed[wire.SessionClosed]
	sessionError   *feed.Feed[wire.SessionError]
	messageError   *feed.Feed[wire.MessageError]

	seenMu sync.Mutex
	seen   map[string]struct{}
}

func New(app string, logger zerolog.Logger) *Dispatcher {
	if strings.TrimSpace(app) == "" {
		app = "chatctl"
	}
	return &Dispatcher{
		app:            app,
		log:            logger.With().Str("component", "dispatch").Logger(),
		newMessage:     feed.New[chat.Message](),
		sessionCreated: feed.New[chat.Session](),
		agentJoined:    feed.New[wire.AgentJoined](),
		sessionClosed:  feed.New[wire.SessionClosed](),
		sessionError:   feed.New[wire.SessionError](),
		messageError:   feed.New[wire.MessageError](),
		seen:           make(map[string]struct{}),
	}
}

func (d *Dispatcher) OnNewMessage(fn func(chat.Message)) func() {
	return d.newMessage.Subscribe(fn)
}

func (d *Dispatcher) OnSessionCreated(fn func(chat.Session)) func() {
	return d.sessionCreated.Subscribe(fn)
}

func (d *Dispatcher) OnAgentJoined(fn func(wire.AgentJoined)) func() {
	return d.agentJoined.Subscribe(fn)
}

func (d *Dispatcher) OnSessionClosed(fn func(wire.SessionClosed)) func() {
	return d.sessionClosed.Subscribe(fn)
}

func (d *Dispatcher) OnSessionError(fn func(wire.SessionError)) func() {
	return d.sessionError.Subscribe(fn)
}

func (d *Dispatcher) OnMessageError(fn func(wire.MessageError)) func() {
	return d.messageError.Subscribe(fn)
}

// HandleEnvelope decodes one push envelope and notifies the matching
// listeners. Malformed payloads and unknown events are logged and dropped;
// they never reach a listener.
func (d *Dispatcher) HandleEnvelope(env wire.Envelope) {
	switch env.Event {
	case wire.EventNewMessage:
		var msg chat.Message
		if !d.decode(env, &msg) {
			return
		}
		if err := msg.Validate(); err != nil {
			d.log.Warn().Err(err).Msg("dropping invalid inbound message")
			return
		}
		if d.duplicate(msg.ID) {
			observability.RecordInboundEvent(d.app, env.Event, true)
			d.log.Debug().Str("message_id", msg.ID).Msg("dropping duplicate message")
			return
		}
		observability.RecordInboundEvent(d.app, env.Event, false)
		d.newMessage.Notify(msg)

	case wire.EventSessionCreated:
		// The session-created push carries the ack shape {success, session}.
		var created wire.Ack
		if !d.decode(env, &created) {
			return
		}
		if !created.Success || created.Session == nil {
			d.log.Warn().Str("event", env.Event).Msg("dropping session-created without session")
			return
		}
		observability.RecordInboundEvent(d.app, env.Event, false)
		d.sessionCreated.Notify(*created.Session)

	case wire.EventAgentJoined:
		var joined wire.AgentJoined
		if !d.decode(env, &joined) {
			return
		}
		observability.RecordInboundEvent(d.app, env.Event, false)
		d.agentJoined.Notify(joined)

	case wire.EventSessionClosed:
		var closed wire.SessionClosed
		if !d.decode(env, &closed) {
			return
		}
		observability.RecordInboundEvent(d.app, env.Event, false)
		d.sessionClosed.Notify(closed)

	case wire.EventSessionError:
		var serr wire.SessionError
		if !d.decode(env, &serr) {
			return
		}
		observability.RecordInboundEvent(d.app, env.Event, false)
		d.sessionError.Notify(serr)

	case wire.EventMessageError:
		var merr wire.MessageError
		if !d.decode(env, &merr) {
			return
		}
		observability.RecordInboundEvent(d.app, env.Event, false)
		d.messageError.Notify(merr)

	default:
		d.log.Debug().Str("event", env.Event).Msg("ignoring unknown push event")
	}
}

func (d *Dispatcher) decode(env wire.Envelope, out any) bool {
	if err := env.DecodeData(out); err != nil {
		d.log.Warn().Str("event", env.Event).Err(err).Msg("dropping malformed push payload")
		return false
	}
	return true
}

func (d *Dispatcher) duplicate(messageID string) bool {
	d.seenMu.Lock()
	defer d.seenMu.Unlock()
	if _, ok := d.seen[messageID]; ok {
		return true
	}
	d.seen[messageID] = struct{}{}
	return false
}
