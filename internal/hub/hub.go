package hub

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/danmuck/chatctl/internal/chat"
	"github.com/danmuck/chatctl/internal/wire"
)

var (
	ErrUnknownSession = errors.New("hub: unknown session")
	ErrSessionExists  = errors.New("hub: session already exists")
)

// Config defines hub behavior. A non-empty AutoAgentName makes the hub join
// that agent into every new session after AutoAgentDelay, for demos and
// integration tests.
type Config struct {
	App            string
	AutoAgentName  string
	AutoAgentDelay time.Duration
}

func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.App) == "" {
		c.App = "hubctl"
	}
	if c.AutoAgentDelay <= 0 {
		c.AutoAgentDelay = 2 * time.Second
	}
	return c
}

// member is one websocket client. Writes are serialized per socket.
type member struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (m *member) send(event string, ackID int64, payload any) error {
	raw, err := wire.Encode(event, ackID, payload)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = m.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return m.ws.WriteMessage(websocket.TextMessage, raw)
}

type room struct {
	session chat.Session
	members map[*member]struct{}
}

// Hub pairs chat sessions with their participants.
type Hub struct {
	cfg      Config
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	rooms   map[string]*room
	clients int
}

func New(cfg Config, logger zerolog.Logger) *Hub {
	return &Hub{
		cfg:   cfg.WithDefaults(),
		log:   logger.With().Str("component", "hub").Logger(),
		rooms: make(map[string]*room),
	}
}

// ClientCount reports how many clients have registered since start.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients
}

// Session returns the stored session by id.
func (h *Hub) Session(id string) (chat.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[id]
	if !ok {
		return chat.Session{}, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return r.session, nil
}

// HandleWS upgrades one websocket client and serves its event loop until the
// socket drops.
func (h *Hub) HandleWS(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(wire.MaxEnvelopeBytes)

	m := &member{ws: ws}
	defer h.dropMember(m)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		env, err := wire.Decode(raw)
		if err != nil {
			h.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		h.handle(m, env)
	}
}

func (h *Hub) handle(m *member, env wire.Envelope) {
	switch env.Event {
	case wire.EventRegisterClient:
		var reg wire.RegisterClient
		if err := env.DecodeData(&reg); err != nil {
			h.log.Warn().Err(err).Msg("bad register-client payload")
			return
		}
		h.mu.Lock()
		h.clients++
		h.mu.Unlock()
		h.log.Info().Str("client_type", reg.Type).Msg("client registered")

	case wire.EventCreateSession:
		h.ack(m, env, h.createSession(m, env))

	case wire.EventJoinSession:
		h.ack(m, env, h.joinSession(m, env))

	case wire.EventSendMessage:
		h.ack(m, env, h.sendMessage(m, env))

	default:
		h.log.Debug().Str("event", env.Event).Msg("ignoring unknown event")
	}
}

func (h *Hub) ack(m *member, env wire.Envelope, ack wire.Ack) {
	if env.AckID == 0 {
		return
	}
	if err := m.send(wire.EventAck, env.AckID, ack); err != nil {
		h.log.Warn().Err(err).Msg("ack write failed")
	}
}

func reject(err error) wire.Ack {
	return wire.Ack{Success: false, Error: err.Error()}
}

func (h *Hub) createSession(m *member, env wire.Envelope) wire.Ack {
	var session chat.Session
	if err := env.DecodeData(&session); err != nil {
		return reject(err)
	}
	if err := session.Validate(); err != nil {
		return reject(err)
	}

	h.mu.Lock()
	if _, ok := h.rooms[session.ID]; ok {
		h.mu.Unlock()
		return reject(fmt.Errorf("%w: %s", ErrSessionExists, session.ID))
	}
	session.Status = chat.SessionWaiting
	session.UpdatedAt = time.Now().UTC()
	h.rooms[session.ID] = &room{
		session: session,
		members: make(map[*member]struct{}),
	}
	h.mu.Unlock()

	h.log.Info().Str("session_id", session.ID).Str("user", session.UserEmail).Msg("session created")
	if err := m.send(wire.EventSessionCreated, 0, wire.Ack{Success: true, Session: &session}); err != nil {
		h.log.Warn().Err(err).Msg("session-created push failed")
	}

	if h.cfg.AutoAgentName != "" {
		id := session.ID
		time.AfterFunc(h.cfg.AutoAgentDelay, func() {
			if err := h.AgentJoin(id, h.cfg.AutoAgentName); err != nil {
				h.log.Debug().Str("session_id", id).Err(err).Msg("auto agent join skipped")
			}
		})
	}
	return wire.Ack{Success: true, Session: &session}
}

func (h *Hub) joinSession(m *member, env wire.Envelope) wire.Ack {
	// join-session data is the bare session id.
	var sessionID string
	if err := env.DecodeData(&sessionID); err != nil {
		return reject(err)
	}
	if strings.TrimSpace(sessionID) == "" {
		return reject(fmt.Errorf("%w: join-session missing session id", wire.ErrInvalidEnvelope))
	}

	h.mu.Lock()
	r, ok := h.rooms[sessionID]
	if !ok {
		h.mu.Unlock()
		return reject(fmt.Errorf("%w: %s", ErrUnknownSession, sessionID))
	}
	r.members[m] = struct{}{}
	session := r.session
	h.mu.Unlock()

	h.log.Info().Str("session_id", sessionID).Msg("client joined session room")
	return wire.Ack{Success: true, Session: &session}
}

func (h *Hub) sendMessage(m *member, env wire.Envelope) wire.Ack {
	var msg chat.Message
	if err := env.DecodeData(&msg); err != nil {
		return reject(err)
	}
	if err := msg.Validate(); err != nil {
		return reject(err)
	}

	h.mu.Lock()
	r, ok := h.rooms[msg.SessionID]
	if !ok {
		h.mu.Unlock()
		return reject(fmt.Errorf("%w: %s", ErrUnknownSession, msg.SessionID))
	}
	// Server time is authoritative once the hub accepts a message.
	msg.CreatedAt = time.Now().UTC()
	msg.Failed = false
	peers := r.peers(m)
	h.mu.Unlock()

	h.broadcast(peers, wire.EventNewMessage, msg)
	return wire.Ack{Success: true, Message: &msg}
}

// AgentJoin marks a session active and announces the agent to the room.
func (h *Hub) AgentJoin(sessionID, agentName string) error {
	h.mu.Lock()
	r, ok := h.rooms[sessionID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	r.session.Status = chat.SessionActive
	r.session.UpdatedAt = time.Now().UTC()
	peers := r.peers(nil)
	h.mu.Unlock()

	h.log.Info().Str("session_id", sessionID).Str("agent", agentName).Msg("agent joined")
	h.broadcast(peers, wire.EventAgentJoined, wire.AgentJoined{SessionID: sessionID, AgentName: agentName})
	return nil
}

// CloseSession announces a terminal close and removes the room.
func (h *Hub) CloseSession(sessionID string) error {
	h.mu.Lock()
	r, ok := h.rooms[sessionID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	peers := r.peers(nil)
	delete(h.rooms, sessionID)
	h.mu.Unlock()

	h.log.Info().Str("session_id", sessionID).Msg("session closed")
	h.broadcast(peers, wire.EventSessionClosed, wire.SessionClosed{SessionID: sessionID})
	return nil
}

// peers snapshots room membership, excluding one member. Callers hold h.mu.
func (r *room) peers(except *member) []*member {
	out := make([]*member, 0, len(r.members))
	for m := range r.members {
		if m != except {
			out = append(out, m)
		}
	}
	return out
}

func (h *Hub) broadcast(peers []*member, event string, payload any) {
	for _, m := range peers {
		if err := m.send(event, 0, payload); err != nil {
			h.log.Warn().Str("event", event).Err(err).Msg("broadcast write failed")
		}
	}
}

func (h *Hub) dropMember(m *member) {
	h.mu.Lock()
	for _, r := range h.rooms {
		delete(r.members, m)
	}
	h.mu.Unlock()
	_ = m.ws.Close()
}

// health is deliberately dependency-free.
func health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
