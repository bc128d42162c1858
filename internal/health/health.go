// Package health implements the model-runtime circuit breaker (C14): a
// {Healthy, Degraded, Unavailable} state machine driven by a background
// prober plus success/failure reporting from real call sites, grounded
// on original_source/backend/services/ollama_monitor.py's
// OllamaHealthMonitor (consecutive-failure counter, circuit-open
// timestamp, cooldown-gated half-open retry) and the worker package's
// sync.Cond-guarded loop shape (internal/worker) for the background
// prober's own start/stop lifecycle.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is one of the three circuit-breaker states (spec §4.14).
type State string

const (
	Healthy     State = "healthy"
	Degraded    State = "degraded"
	Unavailable State = "unavailable"
)

// Threshold is the consecutive-failure count that trips the breaker
// (spec §4.14: "T = 5").
const Threshold = 5

// Cooldown is how long the breaker stays open before a probing call is
// allowed through again (spec §4.14: "e.g., 300 s").
const Cooldown = 300 * time.Second

// DefaultProbeInterval is the background prober's polling period.
const DefaultProbeInterval = 30 * time.Second

// Pinger is the subset of modelclient.Client the prober needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Status is a point-in-time snapshot for the /health endpoint.
type Status struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CircuitOpenSince    time.Time `json:"circuit_open_since,omitempty"`
}

// Breaker tracks model runtime health. All methods are safe for
// concurrent use.
type Breaker struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	circuitOpenAt       time.Time

	pinger        Pinger
	probeInterval time.Duration
	log           *slog.Logger

	stop chan struct{}
	once sync.Once
}

// New constructs a Breaker in the Healthy state. pinger may be nil if
// the caller only wants RecordSuccess/RecordFailure driven by real
// traffic, with no background prober.
func New(pinger Pinger, probeInterval time.Duration, log *slog.Logger) *Breaker {
	if probeInterval <= 0 {
		probeInterval = DefaultProbeInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{
		state:         Healthy,
		pinger:        pinger,
		probeInterval: probeInterval,
		log:           log,
		stop:          make(chan struct{}),
	}
}

// RecordSuccess resets the failure counter and returns the breaker to
// Healthy (spec §4.14: "Successful user-driven calls reset consecutive
// failures to 0 and return to Healthy").
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	if b.state != Healthy {
		b.log.Info("model runtime recovered", "previous_state", b.state)
	}
	b.state = Healthy
	b.circuitOpenAt = time.Time{}
}

// RecordFailure increments the consecutive-failure counter, moving the
// breaker to Degraded after the first repeat failure and to Unavailable
// once Threshold is reached (spec §4.14).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures++

	switch {
	case b.consecutiveFailures >= Threshold:
		if b.state != Unavailable {
			b.log.Warn("model runtime circuit breaker open",
				"consecutive_failures", b.consecutiveFailures, "cooldown", Cooldown)
		}
		b.state = Unavailable
		b.circuitOpenAt = time.Now()
	case b.consecutiveFailures > 1:
		b.state = Degraded
		b.log.Warn("model runtime degraded", "consecutive_failures", b.consecutiveFailures)
	}
}

// Available reports whether callers should attempt model-runtime calls.
// While the circuit is open, it flips to true once Cooldown has
// elapsed, letting the next caller's outcome (RecordSuccess/
// RecordFailure) decide whether to actually close the circuit (spec
// §4.14: "it stays open for a cool-down period, after which a probing
// call is allowed").
func (b *Breaker) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Unavailable {
		return true
	}
	return time.Since(b.circuitOpenAt) > Cooldown
}

// Status returns a snapshot for the health endpoint.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		CircuitOpenSince:    b.circuitOpenAt,
	}
}

// Run drives the background prober until ctx is cancelled or Stop is
// called. It is a no-op if the breaker was constructed without a
// Pinger.
func (b *Breaker) Run(ctx context.Context) {
	if b.pinger == nil {
		return
	}
	ticker := time.NewTicker(b.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		case <-ticker.C:
			b.probe(ctx)
		}
	}
}

// Stop ends a running Run loop. Idempotent.
func (b *Breaker) Stop() {
	b.once.Do(func() { close(b.stop) })
}

func (b *Breaker) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.pinger.Ping(probeCtx); err != nil {
		b.RecordFailure()
		return
	}
	b.RecordSuccess()
}
