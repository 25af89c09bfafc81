package pubsub

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Message types carried in the top-level "type" discriminator.
const (
	TypeHeartbeat = "heartbeat"
	TypeSubscribe = "subscribe"
	TypePublish   = "publish"
)

// ErrInvalidMessage indicates a frame that failed schema validation.
// The connection replies with a fixed notice and stays open.
var ErrInvalidMessage = errors.New("invalid message")

// Replies sent verbatim to the peer on failures.
const (
	invalidMessageText  = "invalid message"
	processingErrorText = "error processing message"
)

// agentSubscribeEvents is the closed set of events an agent connection may
// subscribe to.
var agentSubscribeEvents = map[string]bool{
	EventAgentUpdated:      true,
	EventSessionStarted:    true,
	EventPtyInput:          true,
	EventDeploymentCreated: true,
	EventSessionEnded:      true,
}

// agentPublishEvents is the closed set of events an agent connection may
// publish.
var agentPublishEvents = map[string]bool{
	EventPtyOutput:    true,
	EventSessionEnded: true,
}

// AgentMessage is a validated message received on an agent connection.
type AgentMessage struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// UserMessage is a validated message received on a user connection.
type UserMessage struct {
	Type  string           `json:"type"`
	Event string           `json:"event,omitempty"`
	Data  *UserMessageData `json:"data,omitempty"`
}

// UserMessageData carries the payload of user subscribe/publish messages.
// User-originated events always reference a target agent.
type UserMessageData struct {
	IDAgent int64  `json:"idAgente"`
	Input   string `json:"input,omitempty"`
}

// ParseAgentMessage parses and validates a frame from an agent connection.
// Binary frames are decoded as UTF-8 text before parsing.
func ParseAgentMessage(payload []byte) (*AgentMessage, error) {
	if !utf8.Valid(payload) {
		return nil, ErrInvalidMessage
	}

	var msg AgentMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, ErrInvalidMessage
	}

	switch msg.Type {
	case TypeHeartbeat:
		return &msg, nil
	case TypeSubscribe:
		if !agentSubscribeEvents[msg.Event] {
			return nil, ErrInvalidMessage
		}
		return &msg, nil
	case TypePublish:
		if !agentPublishEvents[msg.Event] {
			return nil, ErrInvalidMessage
		}
		return &msg, nil
	default:
		return nil, ErrInvalidMessage
	}
}

// ParseUserMessage parses and validates a frame from a user connection.
// Binary frames are decoded as UTF-8 text before parsing.
func ParseUserMessage(payload []byte) (*UserMessage, error) {
	if !utf8.Valid(payload) {
		return nil, ErrInvalidMessage
	}

	var msg UserMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, ErrInvalidMessage
	}

	switch msg.Type {
	case TypeHeartbeat:
		return &msg, nil
	case TypeSubscribe:
		if msg.Event != EventPtyOutput {
			return nil, ErrInvalidMessage
		}
		if msg.Data == nil || msg.Data.IDAgent < 1 {
			return nil, ErrInvalidMessage
		}
		return &msg, nil
	case TypePublish:
		if msg.Event != EventPtyInput {
			return nil, ErrInvalidMessage
		}
		if msg.Data == nil || msg.Data.IDAgent < 1 {
			return nil, ErrInvalidMessage
		}
		return &msg, nil
	default:
		return nil, ErrInvalidMessage
	}
}

// UserChannel resolves the bus topic for a user subscribe message. The
// topic is keyed by the referenced agent, not the subscribing user: PTY
// output is produced on the agent side and addressed to the agent's
// session channel.
func UserChannel(userID string, msg *UserMessage) string {
	switch msg.Event {
	case EventPtyOutput:
		return SessionOutputChannel(msg.Data.IDAgent)
	default:
		return fmt.Sprintf("user:%s:%s", userID, msg.Event)
	}
}

// ackReply is sent in response to a heartbeat.
func ackReply() []byte {
	return []byte(`{"type":"ack"}`)
}

// subscribedReply confirms a subscription to the peer.
func subscribedReply(event string) []byte {
	data, _ := json.Marshal(struct {
		Type  string `json:"type"`
		Event string `json:"event"`
	}{Type: "subscribed", Event: event})
	return data
}

// eventFrame wraps a bus payload for delivery down a connection. Bus
// payloads are always JSON, so they embed directly.
func eventFrame(event, payload string) []byte {
	raw := json.RawMessage(payload)
	if !json.Valid(raw) {
		raw, _ = json.Marshal(payload)
	}
	data, _ := json.Marshal(struct {
		Type  string          `json:"type"`
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{Type: "event", Event: event, Data: raw})
	return data
}
