package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/docker/contex/pkg/httpclient"
)

// RetryConfig pins the Dispatcher's retry/backoff tunables, grounded on
// original_source/src/core/webhook_dispatcher.py's _calculate_delay (base *
// 2^attempt, capped, ±25% jitter).
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Timeout     time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Timeout: 5 * time.Second}
}

// backoff returns the delay before attempt i (0-indexed), per the spec's
// min(base*2^i, cap) ± 25% jitter formula.
func backoff(cfg RetryConfig, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * pow2(attempt)
	if max := float64(cfg.MaxDelay); delay > max {
		delay = max
	}
	jitter := delay * 0.25 * (2*rand.Float64() - 1)
	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func pow2(n int) float64 {
	out := 1.0
	for range n {
		out *= 2
	}
	return out
}

// EventType names one of the three webhook envelope kinds the spec
// enumerates for the X-Contex-Event header.
type EventType string

const (
	EventInitialContext EventType = "initial_context"
	EventDataUpdate     EventType = "data_update"
	EventPlain          EventType = "event"
)

// WebhookSender POSTs signed envelopes with retry, backoff and a
// per-destination circuit breaker, grounded on
// original_source/src/core/webhook_dispatcher.py's send_webhook and on
// pkg/runtime/fallback.go's calculateBackoff/isRetryableStatusCode shape
// (adjusted to this spec's ±25% jitter and plain-HTTP retryability rules,
// and on pkg/httpclient's userAgentTransport for the base transport).
type WebhookSender struct {
	client   *http.Client
	retry    RetryConfig
	breakers *Registry
}

func NewWebhookSender(retry RetryConfig, breakers *Registry) *WebhookSender {
	return &WebhookSender{
		client:   httpclient.NewHTTPClient(),
		retry:    retry,
		breakers: breakers,
	}
}

// Outcome is the result of one Send call, including delivery accounting
// useful to the collaborator metrics sink and to tests (S6/S7/S8).
type Outcome struct {
	Success  bool
	Attempts int
	Err      error
}

// ErrCircuitOpen is returned (never wrapped as a webhook I/O failure) when
// the destination's circuit breaker is open: the spec treats this as a
// local, no-I/O suppression, not a DeliveryError.
var ErrCircuitOpen = errors.New("dispatcher: circuit open")

// Send delivers body to url, signing it with secret (if non-empty) and
// tagging it with eventType. It retries per RetryConfig, stopping on any
// 2xx or 4xx response, and is gated by the per-url circuit breaker.
func (w *WebhookSender) Send(ctx context.Context, url, secret string, eventType EventType, body []byte) Outcome {
	breaker := w.breakers.Get("webhook:" + url)
	if !breaker.Allow() {
		return Outcome{Success: false, Err: ErrCircuitOpen}
	}

	headers := http.Header{
		"Content-Type": {"application/json"},
		"X-Contex-Event": {string(eventType)},
	}
	if secret != "" {
		headers.Set("X-Contex-Signature", Sign(secret, body))
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < max(w.retry.MaxAttempts, 1); attempt++ {
		attempts++

		if attempt > 0 {
			delay := backoff(w.retry, attempt-1)
			select {
			case <-ctx.Done():
				breaker.RecordFailure()
				return Outcome{Success: false, Attempts: attempts, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		status, err := w.post(ctx, url, headers, body)
		if err != nil {
			lastErr = err
			continue // connection error / timeout: retryable
		}

		if status >= 200 && status < 300 {
			breaker.RecordSuccess()
			return Outcome{Success: true, Attempts: attempts}
		}
		if status >= 400 && status < 500 {
			breaker.RecordFailure()
			return Outcome{Success: false, Attempts: attempts, Err: fmt.Errorf("dispatcher: webhook %s: status %d", url, status)}
		}
		// 5xx: retryable.
		lastErr = fmt.Errorf("dispatcher: webhook %s: status %d", url, status)
	}

	breaker.RecordFailure()
	return Outcome{Success: false, Attempts: attempts, Err: lastErr}
}

func (w *WebhookSender) post(ctx context.Context, url string, headers http.Header, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, w.retry.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("dispatcher: build request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
