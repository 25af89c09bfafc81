package pubsub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrBusClosed is returned when subscribing on a closed Bus.
var ErrBusClosed = errors.New("bus closed")

// subscribeRetries bounds the backoff loop for redis SUBSCRIBE commands.
// Losing a subscription silently breaks live delivery, so failures are
// retried rather than dropped.
const subscribeRetries = 5

// MessageHandler is invoked for each message delivered on a subscribed
// topic.
type MessageHandler func(topic, payload string)

// Subscription is a handle on one logical topic subscription. Close
// removes the handler; the underlying redis channel is released when the
// last handler for the topic goes away.
type Subscription interface {
	Close()
}

// Broker is the publish/subscribe surface consumed by sessions and the
// trigger workflows.
type Broker interface {
	Publish(ctx context.Context, topic, payload string) error
	Subscribe(topic string, fn MessageHandler) (Subscription, error)
}

// subscriberConn is the subset of redis.PubSub the bus drives.
type subscriberConn interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

// topicState records the outcome of the one redis SUBSCRIBE issued per
// topic. done is closed once the attempt settles; late joiners wait on it
// and share err instead of assuming the channel is established.
type topicState struct {
	done chan struct{}
	err  error
}

// Bus bridges connection sessions to redis pub/sub. It keeps two logically
// separate roles over the transport: the plain client issues PUBLISH
// commands, while a dedicated PubSub connection carries every SUBSCRIBE.
// A redis connection in subscribed mode cannot issue other commands, so
// the two must not be mixed.
type Bus struct {
	publisher    *redis.Client
	subscriber   subscriberConn
	logger       zerolog.Logger
	retryBackoff time.Duration

	mu       sync.Mutex
	handlers map[string]map[*busSubscription]MessageHandler
	topics   map[string]*topicState
	closed   bool
}

// NewBus creates a Bus on top of an established redis client and starts
// the dispatch loop.
func NewBus(ctx context.Context, client *redis.Client, logger zerolog.Logger) *Bus {
	b := &Bus{
		publisher:    client,
		subscriber:   client.Subscribe(ctx),
		logger:       logger,
		retryBackoff: 100 * time.Millisecond,
		handlers:     make(map[string]map[*busSubscription]MessageHandler),
		topics:       make(map[string]*topicState),
	}

	go b.dispatchLoop()

	return b
}

// Close tears down the subscriber connection. Pending subscriptions stop
// receiving messages.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	return b.subscriber.Close()
}

// Publish sends a payload to every subscriber of the topic. Delivery is
// at-most-once: failures are returned for the caller to log, never
// retried.
func (b *Bus) Publish(ctx context.Context, topic, payload string) error {
	return b.publisher.Publish(ctx, topic, payload).Err()
}

// Subscribe registers a handler for exactly the given topic. The redis
// channel is only subscribed when the first handler for the topic
// arrives; subsequent handlers share it and share the SUBSCRIBE outcome,
// so a failed attempt detaches every waiter instead of leaving them
// registered on a channel that was never established.
func (b *Bus) Subscribe(topic string, fn MessageHandler) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}

	sub := &busSubscription{bus: b, topic: topic}
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[*busSubscription]MessageHandler)
	}
	b.handlers[topic][sub] = fn

	state, joined := b.topics[topic]
	if !joined {
		state = &topicState{done: make(chan struct{})}
		b.topics[topic] = state
	}
	b.mu.Unlock()

	if joined {
		<-state.done
	} else {
		state.err = b.subscribeWithRetry(topic)
		if state.err != nil {
			b.mu.Lock()
			delete(b.topics, topic)
			b.mu.Unlock()
		}
		close(state.done)
	}

	if state.err != nil {
		b.removeHandler(sub)
		return nil, state.err
	}

	return sub, nil
}

// subscribeWithRetry issues the redis SUBSCRIBE with exponential backoff.
func (b *Bus) subscribeWithRetry(topic string) error {
	backoff := b.retryBackoff

	var err error
	for attempt := 0; attempt < subscribeRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = b.subscriber.Subscribe(ctx, topic)
		cancel()

		if err == nil {
			return nil
		}

		b.logger.Warn().
			Err(err).
			Str("topic", topic).
			Int("attempt", attempt+1).
			Msg("bus subscribe failed, retrying")

		time.Sleep(backoff)
		backoff *= 2
	}

	return err
}

// dispatchLoop fans bus messages out to the handlers registered for the
// exact topic. A single goroutine drains the subscriber connection, so
// per-topic delivery order is preserved.
func (b *Bus) dispatchLoop() {
	for msg := range b.subscriber.Channel() {
		b.dispatch(msg.Channel, msg.Payload)
	}
}

func (b *Bus) dispatch(topic, payload string) {
	b.mu.Lock()
	handlers := make([]MessageHandler, 0, len(b.handlers[topic]))
	for _, fn := range b.handlers[topic] {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(topic, payload)
	}
}

// removeHandler detaches a subscription and unsubscribes the redis
// channel when it was the topic's last handler.
func (b *Bus) removeHandler(sub *busSubscription) {
	b.mu.Lock()
	handlers, ok := b.handlers[sub.topic]
	if ok {
		delete(handlers, sub)
		if len(handlers) == 0 {
			delete(b.handlers, sub.topic)
			delete(b.topics, sub.topic)
		}
	}
	last := ok && len(handlers) == 0
	closed := b.closed
	b.mu.Unlock()

	if last && !closed {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := b.subscriber.Unsubscribe(ctx, sub.topic); err != nil {
			b.logger.Warn().
				Err(err).
				Str("topic", sub.topic).
				Msg("bus unsubscribe failed")
		}
	}
}

// busSubscription is the Bus implementation of Subscription.
type busSubscription struct {
	bus   *Bus
	topic string
	once  sync.Once
}

func (s *busSubscription) Close() {
	s.once.Do(func() {
		s.bus.removeHandler(s)
	})
}
