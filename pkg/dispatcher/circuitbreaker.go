package dispatcher

import (
	"sync"
	"time"
)

// State is one of the three circuit-breaker states, grounded on
// original_source/src/core/circuit_breaker.py's CircuitState enum.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// BreakerConfig pins the three tunables of the state machine; defaults
// match original_source/src/core/circuit_breaker.py's CircuitBreakerConfig.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 60 * time.Second}
}

// CircuitBreaker guards one destination (a webhook URL). It is safe for
// concurrent use by multiple in-flight deliveries to the same URL.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	onTransition     func(from, to State)
}

func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed, lastStateChange: time.Now()}
}

// OnTransition registers a callback invoked on every state change, used to
// emit the collaborator metric `circuit_breaker_transitions{from,to}`.
func (b *CircuitBreaker) OnTransition(f func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onTransition = f
}

func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a request may proceed. A request against an Open
// breaker whose timeout has elapsed transitions it to HalfOpen and is
// itself allowed through as the trial request.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailureTime) >= b.cfg.Timeout {
			b.transitionTo(StateHalfOpen)
			return true
		}
		return false
	default: // HalfOpen
		return true
	}
}

// RecordSuccess notes a successful call. In HalfOpen, enough consecutive
// successes close the circuit; in Closed, it simply resets the failure
// streak.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.transitionTo(StateClosed)
		}
	case StateClosed:
		b.failureCount = 0
	}
}

// RecordFailure notes a failed call. A failure in HalfOpen immediately
// reopens the circuit; in Closed, failure_threshold consecutive failures
// opens it.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateHalfOpen:
		b.transitionTo(StateOpen)
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	}
}

// transitionTo must be called with b.mu held.
func (b *CircuitBreaker) transitionTo(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.lastStateChange = time.Now()
	b.failureCount = 0
	b.successCount = 0
	if b.onTransition != nil {
		cb := b.onTransition
		go cb(from, to)
	}
}

// Registry hands out one CircuitBreaker per destination name (typically
// "webhook:<url>"), creating it lazily on first use.
type Registry struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func NewRegistry(cfg BreakerConfig) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewCircuitBreaker(r.cfg)
		r.breakers[name] = b
	}
	return b
}
