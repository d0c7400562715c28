package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Broker is the Dispatcher's pub/sub transport abstraction: PubSub mode
// delivery is synchronous in-process fan-out, with a Redis-backed variant
// for cross-process subscribers (§4.10).
type Broker interface {
	// Publish delivers bytes to every current subscriber of channel. If
	// there are none, the message is dropped (no error, no retry).
	Publish(ctx context.Context, channel string, payload []byte) error
	Close() error
}

// InProcessBroker fans out synchronously to in-process listeners on a
// channel; it is the default Broker and the one that gives the "no
// listener ⇒ dropped" contract its literal meaning.
type InProcessBroker struct {
	mu       sync.RWMutex
	channels map[string][]chan []byte
}

func NewInProcessBroker() *InProcessBroker {
	return &InProcessBroker{channels: make(map[string][]chan []byte)}
}

// Subscribe registers a listener on channel, returning a receive channel
// and a cancel function that unregisters it.
func (b *InProcessBroker) Subscribe(channel string) (<-chan []byte, func()) {
	ch := make(chan []byte, 16)

	b.mu.Lock()
	b.channels[channel] = append(b.channels[channel], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		listeners := b.channels[channel]
		for i, l := range listeners {
			if l == ch {
				b.channels[channel] = append(listeners[:i], listeners[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, cancel
}

// Publish delivers payload to every current listener on channel,
// non-blockingly: a full listener buffer drops the message for that
// listener rather than blocking the publisher.
func (b *InProcessBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	listeners := append([]chan []byte(nil), b.channels[channel]...)
	b.mu.RUnlock()

	for _, ch := range listeners {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

func (b *InProcessBroker) Close() error { return nil }

// RedisBroker publishes to a Redis channel via PUBLISH, grounded on
// evalgo-org-eve's queue/redis.Queue use of github.com/redis/go-redis/v9,
// generalized from a durable job queue to a fire-and-forget pub/sub
// channel (PUBLISH has the identical "no subscriber, message dropped"
// semantics the spec's contract requires).
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(redisURL string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: parse redis url: %w", err)
	}
	return &RedisBroker{client: redis.NewClient(opts)}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("dispatcher: redis publish: %w", err)
	}
	return nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
