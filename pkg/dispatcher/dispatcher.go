// Package dispatcher implements the Dispatcher: delivery of initial context
// and subsequent updates to subscribers over an in-process/Redis pub/sub
// channel or an HTTP webhook, with retries, HMAC signing and a per-URL
// circuit breaker (§4.10).
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// ErrBackpressure is returned when a publish's webhook fan-out would
// exceed the bounded task queue's high-water mark, per the §9 design note
// ("never launch unbounded tasks").
var ErrBackpressure = errors.New("dispatcher: backpressure, too many in-flight webhook deliveries")

// Target is the minimal delivery-addressing information the Dispatcher
// needs from a Subscription, kept decoupled from the subscription package
// so dispatcher has no import-cycle dependency on it.
type Target struct {
	Mode    string // "pubsub" or "webhook"
	Channel string
	URL     string
	Secret  string
}

// Dispatcher fans out envelopes to subscribers. Webhook deliveries run on
// a bounded worker pool (never unbounded goroutines per publish); pub/sub
// delivery is synchronous.
type Dispatcher struct {
	broker Broker
	sender *WebhookSender

	inFlight chan struct{} // bounded semaphore; high-water mark for webhook fan-out
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithMaxInFlightWebhooks(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.inFlight = make(chan struct{}, n)
		}
	}
}

func New(broker Broker, sender *WebhookSender, opts ...Option) *Dispatcher {
	d := &Dispatcher{broker: broker, sender: sender, inFlight: make(chan struct{}, 256)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DeliverSync JSON-marshals envelope and delivers it synchronously. Most
// callers that honor a subscriber's requested serialization format (TOON,
// YAML, …) should pre-serialize the envelope themselves and call
// DeliverBytesSync/DeliverBytesAsync instead; this method exists for
// callers with no format choice to make.
func (d *Dispatcher) DeliverSync(ctx context.Context, target Target, eventType EventType, envelope any) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("dispatcher: marshal envelope: %w", err)
	}
	return d.DeliverBytesSync(ctx, target, eventType, body)
}

// DeliverBytesSync delivers an already-serialized envelope body to target
// synchronously: PubSub publishes in-process/Redis; Webhook blocks on the
// full retry loop.
func (d *Dispatcher) DeliverBytesSync(ctx context.Context, target Target, eventType EventType, body []byte) error {
	switch target.Mode {
	case "pubsub":
		return d.broker.Publish(ctx, target.Channel, body)
	case "webhook":
		outcome := d.sender.Send(ctx, target.URL, target.Secret, eventType, body)
		if !outcome.Success {
			if errors.Is(outcome.Err, ErrCircuitOpen) {
				slog.Debug("dispatcher: circuit open, delivery suppressed", "url", target.URL)
				return nil // CircuitOpen is not an error to callers (§7)
			}
			return fmt.Errorf("dispatcher: webhook delivery failed: %w", outcome.Err)
		}
		return nil
	default:
		return fmt.Errorf("dispatcher: unknown delivery mode %q", target.Mode)
	}
}

// DeliverAsync JSON-marshals envelope and delivers it on a background
// task; see DeliverBytesAsync for the format-aware counterpart.
func (d *Dispatcher) DeliverAsync(ctx context.Context, target Target, eventType EventType, envelope any) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("dispatcher: marshal envelope: %w", err)
	}
	return d.DeliverBytesAsync(ctx, target, eventType, body)
}

// DeliverBytesAsync delivers an already-serialized envelope body to target
// on a background task, bounded by the in-flight semaphore: a publish that
// would exceed the queue's high-water mark is rejected with
// ErrBackpressure instead of spawning an unbounded goroutine (§9). PubSub
// delivery is dispatched synchronously regardless, since it is already
// non-blocking best-effort fan-out.
func (d *Dispatcher) DeliverBytesAsync(ctx context.Context, target Target, eventType EventType, body []byte) error {
	if target.Mode == "pubsub" {
		return d.DeliverBytesSync(ctx, target, eventType, body)
	}

	select {
	case d.inFlight <- struct{}{}:
	default:
		return ErrBackpressure
	}

	go func() {
		defer func() { <-d.inFlight }()
		if err := d.DeliverBytesSync(context.WithoutCancel(ctx), target, eventType, body); err != nil {
			slog.Warn("dispatcher: async webhook delivery failed", "url", target.URL, "error", err)
		}
	}()
	return nil
}
