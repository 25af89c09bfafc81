// Package vrdeploy provides a Go client for the vrdeploy agent API. It is
// what a point-of-sale agent embeds to register itself, hold a live event
// connection, and run terminal sessions.
package vrdeploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TokenHeader carries the agent secret key on every request.
const TokenHeader = "X-Agente-Token"

// heartbeatInterval keeps the presence TTL alive. The server expires agent
// presence after 60 seconds without a heartbeat.
const heartbeatInterval = 15 * time.Second

// Events an agent subscribes to after connecting.
const (
	EventAgentUpdated      = "agente:updated"
	EventSessionStarted    = "pty:session_started"
	EventPtyInput          = "pty:input"
	EventDeploymentCreated = "implantacao:created"
	EventSessionEnded      = "pty:session_ended"
)

// Events an agent publishes.
const (
	EventPtyOutput = "pty:output"
)

// Client is a vrdeploy API client.
type Client struct {
	BaseURL    string
	Token      string
	ConfigDir  string
	HTTPClient *http.Client
}

// NewClient creates a client for the given server. Token may be empty until
// the agent registers or LoadConfig finds saved credentials.
func NewClient(baseURL, token string) *Client {
	configDir := os.Getenv("VRDEPLOY_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".vrdeploy")
	}

	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Token:      token,
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type agentConfig struct {
	ID        int64  `json:"id"`
	SecretKey string `json:"chaveSecreta"`
}

// LoadConfig loads saved agent credentials from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "agent.json"))
	if err != nil {
		return err
	}

	var config agentConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}

	c.Token = config.SecretKey
	return nil
}

// SaveConfig persists agent credentials to disk. The secret key is issued
// once at registration, so losing it means re-registering.
func (c *Client) SaveConfig(agent *Agent) error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, err := json.Marshal(agentConfig{ID: agent.ID, SecretKey: agent.SecretKey})
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(c.ConfigDir, "agent.json"), data, 0600)
}

// Agent is the registration result. SecretKey is only populated on the
// registration response; store it.
type Agent struct {
	ID        int64  `json:"id"`
	MAC       string `json:"enderecoMac"`
	OS        string `json:"sistemaOperacional"`
	Status    string `json:"situacao"`
	SecretKey string `json:"chaveSecreta"`
}

// Register creates the agent on the server and stores the returned secret
// key on the client.
func (c *Client) Register(ctx context.Context, macAddress, operatingSystem string) (*Agent, error) {
	body, err := json.Marshal(map[string]string{
		"enderecoMac":        macAddress,
		"sistemaOperacional": operatingSystem,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/agente", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("registration failed: %s: %s", resp.Status, data)
	}

	var agent Agent
	if err := json.NewDecoder(resp.Body).Decode(&agent); err != nil {
		return nil, err
	}

	c.Token = agent.SecretKey
	return &agent, nil
}

// Event is a server-pushed frame on the event connection.
type Event struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is a live event connection. Reads must come from a single goroutine
// calling ReadEvent; writes are safe from any goroutine.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// Connect dials the event endpoint, subscribes to the standard agent events
// and starts the heartbeat loop.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/pubsub/agente"

	header := http.Header{}
	header.Set(TokenHeader, c.Token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed: %s: %w", resp.Status, err)
		}
		return nil, err
	}

	conn := &Conn{ws: ws, done: make(chan struct{})}

	events := []string{
		EventAgentUpdated,
		EventSessionStarted,
		EventPtyInput,
		EventDeploymentCreated,
		EventSessionEnded,
	}
	for _, event := range events {
		if err := conn.Subscribe(event); err != nil {
			conn.Close()
			return nil, err
		}
	}

	go conn.heartbeatLoop()

	return conn, nil
}

// Subscribe asks the server to route the given event to this connection.
func (c *Conn) Subscribe(event string) error {
	return c.write(map[string]string{"type": "subscribe", "event": event})
}

// Publish sends an event payload upstream.
func (c *Conn) Publish(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.write(map[string]interface{}{
		"type":  "publish",
		"event": event,
		"data":  json.RawMessage(payload),
	})
}

// PublishOutput streams terminal output for the active session.
func (c *Conn) PublishOutput(output string) error {
	return c.Publish(EventPtyOutput, map[string]string{"output": output})
}

// PublishSessionEnded signals that the terminal session terminated.
func (c *Conn) PublishSessionEnded() error {
	return c.Publish(EventSessionEnded, nil)
}

// ReadEvent blocks until the next frame arrives. Acks and subscription
// confirmations are skipped; only event frames are returned.
func (c *Conn) ReadEvent() (*Event, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, err
		}
		if event.Type != "event" {
			continue
		}
		return &event, nil
	}
}

// Close shuts down the heartbeat loop and the underlying connection.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(map[string]string{"type": "heartbeat"}); err != nil {
				return
			}
		}
	}
}

func (c *Conn) write(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
