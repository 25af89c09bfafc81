package pubsub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/matheuslanduci/vrdeploy/internal/metrics"
)

// Connection roles.
const (
	RoleAgent = "agente"
	RoleUser  = "user"
)

// Conn is the subset of a websocket connection used by a Session.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Presence tracks ephemeral online state for agents and users. Errors are
// recoverable: sessions log presence write failures and keep running.
type Presence interface {
	RegisterAgent(ctx context.Context, agentID int64) error
	RenewAgent(ctx context.Context, agentID int64) error
	UnregisterAgent(ctx context.Context, agentID int64) error
	RegisterUser(ctx context.Context, userID string) error
	RenewUser(ctx context.Context, userID string) error
	UnregisterUser(ctx context.Context, userID string) error
}

// Session owns the lifecycle of one long-lived duplex connection: it
// registers presence on open, demultiplexes inbound protocol messages,
// bridges subscriptions to the Bus, and cleans everything up exactly once
// on close. Inbound handling is sequential per connection; distinct
// connections are fully independent.
type Session struct {
	conn     Conn
	bus      Broker
	presence Presence
	logger   zerolog.Logger

	role    string
	agentID int64
	userID  string

	// writeMu serializes frames: the read loop and the bus dispatcher
	// both write to the connection.
	writeMu sync.Mutex

	// subs maps topic to the open bus subscription. At most one handler
	// per (connection, topic): duplicate subscribes are acknowledged but
	// not re-registered, so a topic never delivers twice to one peer.
	subsMu sync.Mutex
	subs   map[string]Subscription

	closeOnce sync.Once
}

// NewAgentSession creates the session for a connected agent.
func NewAgentSession(conn Conn, agentID int64, bus Broker, presence Presence, logger zerolog.Logger) *Session {
	return &Session{
		conn:     conn,
		bus:      bus,
		presence: presence,
		logger:   logger.With().Str("role", RoleAgent).Int64("agent_id", agentID).Logger(),
		role:     RoleAgent,
		agentID:  agentID,
		subs:     make(map[string]Subscription),
	}
}

// NewUserSession creates the session for a connected user.
func NewUserSession(conn Conn, userID string, bus Broker, presence Presence, logger zerolog.Logger) *Session {
	return &Session{
		conn:     conn,
		bus:      bus,
		presence: presence,
		logger:   logger.With().Str("role", RoleUser).Str("user_id", userID).Logger(),
		role:     RoleUser,
		userID:   userID,
		subs:     make(map[string]Subscription),
	}
}

// Run registers presence and processes inbound frames until the
// connection closes. It always returns with presence unregistered and all
// bus subscriptions released.
func (s *Session) Run(ctx context.Context) {
	if err := s.registerPresence(ctx); err != nil {
		metrics.PresenceErrors.Inc()
		s.logger.Error().Err(err).Msg("presence register failed")
	}

	metrics.ConnectionsActive.WithLabelValues(s.role).Inc()
	s.logger.Info().Msg("connection opened")

	defer s.teardown(ctx)

	for {
		messageType, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Msg("connection closed by peer")
			} else {
				s.logger.Debug().Err(err).Msg("connection read failed")
			}
			return
		}

		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		s.handleFrame(ctx, payload)
	}
}

// handleFrame processes a single inbound frame. Failures are scoped to
// the frame: the peer gets a fixed notice and the loop continues.
func (s *Session) handleFrame(ctx context.Context, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("panic handling message")
			s.write([]byte(processingErrorText))
		}
	}()

	switch s.role {
	case RoleAgent:
		msg, err := ParseAgentMessage(payload)
		if err != nil {
			s.logger.Warn().Str("payload", string(payload)).Msg("invalid agent message")
			s.write([]byte(invalidMessageText))
			return
		}
		metrics.Messages.WithLabelValues(s.role, msg.Type).Inc()
		s.handleAgentMessage(ctx, msg)
	case RoleUser:
		msg, err := ParseUserMessage(payload)
		if err != nil {
			s.logger.Warn().Str("payload", string(payload)).Msg("invalid user message")
			s.write([]byte(invalidMessageText))
			return
		}
		metrics.Messages.WithLabelValues(s.role, msg.Type).Inc()
		s.handleUserMessage(ctx, msg)
	}
}

func (s *Session) handleAgentMessage(ctx context.Context, msg *AgentMessage) {
	switch msg.Type {
	case TypeHeartbeat:
		if err := s.presence.RenewAgent(ctx, s.agentID); err != nil {
			metrics.PresenceErrors.Inc()
			s.logger.Error().Err(err).Msg("presence renew failed")
		}
		s.write(ackReply())

	case TypeSubscribe:
		topic := AgentChannel(s.agentID, msg.Event)
		if err := s.subscribe(topic, msg.Event); err != nil {
			s.logger.Error().Err(err).Str("topic", topic).Msg("subscribe failed")
			s.write([]byte(processingErrorText))
			return
		}
		s.write(subscribedReply(msg.Event))

	case TypePublish:
		var topic string
		switch msg.Event {
		case EventPtyOutput:
			topic = SessionOutputChannel(s.agentID)
		case EventSessionEnded:
			topic = SessionEndedChannel(s.agentID)
		}

		payload := "null"
		if len(msg.Data) > 0 {
			payload = string(msg.Data)
		}

		if err := s.bus.Publish(ctx, topic, payload); err != nil {
			s.logger.Error().Err(err).Str("topic", topic).Msg("bus publish failed")
			s.write([]byte(processingErrorText))
			return
		}
		metrics.BusPublishes.WithLabelValues(msg.Event).Inc()
	}
}

func (s *Session) handleUserMessage(ctx context.Context, msg *UserMessage) {
	switch msg.Type {
	case TypeHeartbeat:
		if err := s.presence.RenewUser(ctx, s.userID); err != nil {
			metrics.PresenceErrors.Inc()
			s.logger.Error().Err(err).Msg("presence renew failed")
		}
		s.write(ackReply())

	case TypeSubscribe:
		topic := UserChannel(s.userID, msg)
		if err := s.subscribe(topic, msg.Event); err != nil {
			s.logger.Error().Err(err).Str("topic", topic).Msg("subscribe failed")
			s.write([]byte(processingErrorText))
			return
		}
		s.write(subscribedReply(msg.Event))

	case TypePublish:
		topic := AgentChannel(msg.Data.IDAgent, EventPtyInput)

		payload, err := encodeUserData(msg.Data)
		if err == nil {
			err = s.bus.Publish(ctx, topic, payload)
		}
		if err != nil {
			s.logger.Error().Err(err).Str("topic", topic).Msg("bus publish failed")
			s.write([]byte(processingErrorText))
			return
		}
		metrics.BusPublishes.WithLabelValues(msg.Event).Inc()
	}
}

// subscribe opens a bus subscription that re-emits matching messages down
// this connection. Subscribing twice to the same topic is a no-op.
func (s *Session) subscribe(topic, event string) error {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if _, ok := s.subs[topic]; ok {
		return nil
	}

	sub, err := s.bus.Subscribe(topic, func(_, payload string) {
		s.write(eventFrame(event, payload))
	})
	if err != nil {
		return err
	}

	s.subs[topic] = sub
	return nil
}

func (s *Session) registerPresence(ctx context.Context) error {
	if s.role == RoleAgent {
		return s.presence.RegisterAgent(ctx, s.agentID)
	}
	return s.presence.RegisterUser(ctx, s.userID)
}

func (s *Session) unregisterPresence(ctx context.Context) error {
	if s.role == RoleAgent {
		return s.presence.UnregisterAgent(ctx, s.agentID)
	}
	return s.presence.UnregisterUser(ctx, s.userID)
}

// teardown runs exactly once regardless of which closure path fired:
// presence is unregistered immediately (offline must not wait for the TTL)
// and every bus subscription is released so no handler outlives the
// connection.
func (s *Session) teardown(ctx context.Context) {
	s.closeOnce.Do(func() {
		if err := s.unregisterPresence(ctx); err != nil {
			metrics.PresenceErrors.Inc()
			s.logger.Error().Err(err).Msg("presence unregister failed")
		}

		s.subsMu.Lock()
		for topic, sub := range s.subs {
			sub.Close()
			delete(s.subs, topic)
		}
		s.subsMu.Unlock()

		_ = s.conn.Close()

		metrics.ConnectionsActive.WithLabelValues(s.role).Dec()
		s.logger.Info().Msg("connection closed")
	})
}

func (s *Session) write(data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug().Err(err).Msg("connection write failed")
	}
}

// encodeUserData re-encodes validated user payload data for the bus.
func encodeUserData(data *UserMessageData) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
