package pubsub

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeConn scripts inbound frames through a channel and records writes.
type fakeConn struct {
	in chan []byte

	mu     sync.Mutex
	writes []string
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.in
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return 1, data, nil // websocket.TextMessage
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, string(data))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) writesSnapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

// fakeBroker records publishes and keeps handlers for direct delivery.
type fakeBroker struct {
	mu        sync.Mutex
	published []publishedMessage
	handlers  map[string][]*fakeSubscription
}

type publishedMessage struct {
	topic   string
	payload string
}

type fakeSubscription struct {
	broker *fakeBroker
	topic  string
	fn     MessageHandler

	mu     sync.Mutex
	closed bool
}

func (s *fakeSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string][]*fakeSubscription)}
}

func (b *fakeBroker) Publish(ctx context.Context, topic, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedMessage{topic: topic, payload: payload})
	return nil
}

func (b *fakeBroker) Subscribe(topic string, fn MessageHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &fakeSubscription{broker: b, topic: topic, fn: fn}
	b.handlers[topic] = append(b.handlers[topic], sub)
	return sub, nil
}

// deliver simulates a bus message arriving on a topic.
func (b *fakeBroker) deliver(topic, payload string) {
	b.mu.Lock()
	subs := append([]*fakeSubscription(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, sub := range subs {
		if !sub.isClosed() {
			sub.fn(topic, payload)
		}
	}
}

func (b *fakeBroker) handlerCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	count := 0
	for _, sub := range b.handlers[topic] {
		if !sub.isClosed() {
			count++
		}
	}
	return count
}

func (b *fakeBroker) publishedSnapshot() []publishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishedMessage(nil), b.published...)
}

// fakePresence counts presence operations.
type fakePresence struct {
	mu           sync.Mutex
	registered   int
	renewed      int
	unregistered int
	err          error
}

func (p *fakePresence) op(counter *int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	*counter++
	return nil
}

func (p *fakePresence) RegisterAgent(ctx context.Context, agentID int64) error {
	return p.op(&p.registered)
}

func (p *fakePresence) RenewAgent(ctx context.Context, agentID int64) error {
	return p.op(&p.renewed)
}

func (p *fakePresence) UnregisterAgent(ctx context.Context, agentID int64) error {
	return p.op(&p.unregistered)
}

func (p *fakePresence) RegisterUser(ctx context.Context, userID string) error {
	return p.op(&p.registered)
}

func (p *fakePresence) RenewUser(ctx context.Context, userID string) error {
	return p.op(&p.renewed)
}

func (p *fakePresence) UnregisterUser(ctx context.Context, userID string) error {
	return p.op(&p.unregistered)
}

func (p *fakePresence) counts() (int, int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registered, p.renewed, p.unregistered
}

// waitFor polls until the condition holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type sessionFixture struct {
	conn     *fakeConn
	broker   *fakeBroker
	presence *fakePresence
	done     chan struct{}
}

func startAgentSession(t *testing.T, agentID int64) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		conn:     newFakeConn(),
		broker:   newFakeBroker(),
		presence: &fakePresence{},
		done:     make(chan struct{}),
	}

	session := NewAgentSession(f.conn, agentID, f.broker, f.presence, zerolog.Nop())
	go func() {
		session.Run(context.Background())
		close(f.done)
	}()
	return f
}

func startUserSession(t *testing.T, userID string) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		conn:     newFakeConn(),
		broker:   newFakeBroker(),
		presence: &fakePresence{},
		done:     make(chan struct{}),
	}

	session := NewUserSession(f.conn, userID, f.broker, f.presence, zerolog.Nop())
	go func() {
		session.Run(context.Background())
		close(f.done)
	}()
	return f
}

func (f *sessionFixture) send(t *testing.T, frame string) {
	t.Helper()
	select {
	case f.conn.in <- []byte(frame):
	case <-time.After(2 * time.Second):
		t.Fatal("timed out sending frame")
	}
}

func (f *sessionFixture) close(t *testing.T) {
	t.Helper()
	close(f.conn.in)
	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session to stop")
	}
}

func TestAgentSessionHeartbeat(t *testing.T) {
	f := startAgentSession(t, 7)

	f.send(t, `{"type":"heartbeat"}`)
	waitFor(t, "ack", func() bool { return len(f.conn.writesSnapshot()) == 1 })

	writes := f.conn.writesSnapshot()
	if writes[0] != `{"type":"ack"}` {
		t.Errorf("unexpected reply: %s", writes[0])
	}

	_, renewed, _ := f.presence.counts()
	if renewed != 1 {
		t.Errorf("expected 1 renewal, got %d", renewed)
	}

	f.close(t)
}

func TestAgentSessionRegistersPresenceOnOpen(t *testing.T) {
	f := startAgentSession(t, 7)

	waitFor(t, "register", func() bool {
		registered, _, _ := f.presence.counts()
		return registered == 1
	})

	f.close(t)

	_, _, unregistered := f.presence.counts()
	if unregistered != 1 {
		t.Errorf("expected 1 unregister on close, got %d", unregistered)
	}
	if !f.conn.closed {
		t.Error("expected connection to be closed")
	}
}

func TestAgentSessionSubscribeAndDeliver(t *testing.T) {
	f := startAgentSession(t, 7)

	f.send(t, `{"type":"subscribe","event":"pty:input"}`)
	waitFor(t, "subscribed reply", func() bool { return len(f.conn.writesSnapshot()) == 1 })

	writes := f.conn.writesSnapshot()
	if writes[0] != `{"type":"subscribed","event":"pty:input"}` {
		t.Errorf("unexpected reply: %s", writes[0])
	}

	f.broker.deliver("agent:7:pty:input", `{"idAgente":7,"input":"ls"}`)
	f.broker.deliver("agent:8:pty:input", `{"idAgente":8,"input":"rm"}`)

	waitFor(t, "event frame", func() bool { return len(f.conn.writesSnapshot()) == 2 })
	writes = f.conn.writesSnapshot()
	if !strings.Contains(writes[1], `"type":"event"`) || !strings.Contains(writes[1], `"event":"pty:input"`) {
		t.Errorf("unexpected event frame: %s", writes[1])
	}
	if strings.Contains(writes[1], "rm") {
		t.Error("received delivery addressed to another agent")
	}

	f.close(t)
}

func TestAgentSessionDuplicateSubscribe(t *testing.T) {
	f := startAgentSession(t, 7)

	f.send(t, `{"type":"subscribe","event":"pty:input"}`)
	f.send(t, `{"type":"subscribe","event":"pty:input"}`)
	waitFor(t, "both replies", func() bool { return len(f.conn.writesSnapshot()) == 2 })

	if got := f.broker.handlerCount("agent:7:pty:input"); got != 1 {
		t.Fatalf("expected exactly one handler, got %d", got)
	}

	f.broker.deliver("agent:7:pty:input", "x")
	waitFor(t, "single delivery", func() bool { return len(f.conn.writesSnapshot()) == 3 })

	// Give a duplicate delivery a chance to show up.
	time.Sleep(20 * time.Millisecond)
	if got := len(f.conn.writesSnapshot()); got != 3 {
		t.Errorf("expected 3 writes total, got %d", got)
	}

	f.close(t)
}

func TestAgentSessionMalformedMessage(t *testing.T) {
	f := startAgentSession(t, 7)

	f.send(t, `{"event":"pty:input"}`)
	waitFor(t, "invalid notice", func() bool { return len(f.conn.writesSnapshot()) == 1 })

	if got := f.conn.writesSnapshot()[0]; got != "invalid message" {
		t.Errorf("unexpected reply: %s", got)
	}

	// The connection stays open and keeps processing.
	f.send(t, `{"type":"heartbeat"}`)
	waitFor(t, "ack after invalid", func() bool { return len(f.conn.writesSnapshot()) == 2 })
	if got := f.conn.writesSnapshot()[1]; got != `{"type":"ack"}` {
		t.Errorf("unexpected reply: %s", got)
	}

	f.close(t)
}

func TestAgentSessionPublish(t *testing.T) {
	f := startAgentSession(t, 7)

	f.send(t, `{"type":"publish","event":"pty:output","data":{"session_id":"s1","output":"aGk="}}`)
	waitFor(t, "publish", func() bool { return len(f.broker.publishedSnapshot()) == 1 })

	published := f.broker.publishedSnapshot()[0]
	if published.topic != "session:7:output" {
		t.Errorf("unexpected topic: %s", published.topic)
	}
	if !strings.Contains(published.payload, "s1") {
		t.Errorf("unexpected payload: %s", published.payload)
	}

	f.close(t)
}

func TestAgentSessionPublishSessionEnded(t *testing.T) {
	f := startAgentSession(t, 7)

	f.send(t, `{"type":"publish","event":"pty:session_ended","data":{"session_id":"s1"}}`)
	waitFor(t, "publish", func() bool { return len(f.broker.publishedSnapshot()) == 1 })

	if got := f.broker.publishedSnapshot()[0].topic; got != "session:7:ended" {
		t.Errorf("unexpected topic: %s", got)
	}

	f.close(t)
}

func TestSessionTeardownReleasesSubscriptions(t *testing.T) {
	f := startAgentSession(t, 7)

	f.send(t, `{"type":"subscribe","event":"pty:input"}`)
	f.send(t, `{"type":"subscribe","event":"agente:updated"}`)
	waitFor(t, "replies", func() bool { return len(f.conn.writesSnapshot()) == 2 })

	f.close(t)

	if got := f.broker.handlerCount("agent:7:pty:input"); got != 0 {
		t.Errorf("expected pty:input handler released, %d left", got)
	}
	if got := f.broker.handlerCount("agent:7:agente:updated"); got != 0 {
		t.Errorf("expected agente:updated handler released, %d left", got)
	}
}

func TestSessionSurvivesPresenceFailure(t *testing.T) {
	f := &sessionFixture{
		conn:     newFakeConn(),
		broker:   newFakeBroker(),
		presence: &fakePresence{err: errors.New("store unavailable")},
		done:     make(chan struct{}),
	}

	session := NewAgentSession(f.conn, 7, f.broker, f.presence, zerolog.Nop())
	go func() {
		session.Run(context.Background())
		close(f.done)
	}()

	// Heartbeat still acks even though the presence write fails.
	f.send(t, `{"type":"heartbeat"}`)
	waitFor(t, "ack", func() bool { return len(f.conn.writesSnapshot()) == 1 })
	if got := f.conn.writesSnapshot()[0]; got != `{"type":"ack"}` {
		t.Errorf("unexpected reply: %s", got)
	}

	f.close(t)
}

func TestUserSessionSubscribeResolvesAgentTopic(t *testing.T) {
	f := startUserSession(t, "user-abc")

	f.send(t, `{"type":"subscribe","event":"pty:output","data":{"idAgente":42}}`)
	waitFor(t, "subscribed reply", func() bool { return len(f.conn.writesSnapshot()) == 1 })

	if got := f.broker.handlerCount("session:42:output"); got != 1 {
		t.Fatalf("expected handler on the agent output topic, got %d", got)
	}

	f.broker.deliver("session:42:output", "chunk")
	waitFor(t, "delivery", func() bool { return len(f.conn.writesSnapshot()) == 2 })

	writes := f.conn.writesSnapshot()
	if !strings.Contains(writes[1], `"event":"pty:output"`) {
		t.Errorf("unexpected event frame: %s", writes[1])
	}

	f.close(t)
}

func TestUserSessionPublishInput(t *testing.T) {
	f := startUserSession(t, "user-abc")

	f.send(t, `{"type":"publish","event":"pty:input","data":{"idAgente":42,"input":"ls\n"}}`)
	waitFor(t, "publish", func() bool { return len(f.broker.publishedSnapshot()) == 1 })

	published := f.broker.publishedSnapshot()[0]
	if published.topic != "agent:42:pty:input" {
		t.Errorf("unexpected topic: %s", published.topic)
	}
	if !strings.Contains(published.payload, `"idAgente":42`) {
		t.Errorf("unexpected payload: %s", published.payload)
	}

	f.close(t)
}

func TestUserSessionHeartbeatRenews(t *testing.T) {
	f := startUserSession(t, "user-abc")

	f.send(t, `{"type":"heartbeat"}`)
	waitFor(t, "ack", func() bool { return len(f.conn.writesSnapshot()) == 1 })

	_, renewed, _ := f.presence.counts()
	if renewed != 1 {
		t.Errorf("expected user presence renewed, got %d", renewed)
	}

	f.close(t)
}
