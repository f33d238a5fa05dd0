package sync

import (
	"sync"
	"time"

	apperrors "github.com/tasknexus/backend/internal/errors"
	"github.com/tasknexus/backend/internal/logging"
)

// BreakerConfig holds circuit breaker parameters.
type BreakerConfig struct {
	FailureRatio float64       // open when the window's failure ratio reaches this
	MinSamples   int           // no tripping before this many samples
	WindowSize   int           // number of recent results sampled
	Cooldown     time.Duration // open duration before a half-open trial
}

// DefaultBreakerConfig returns the parameters used by the remote-call
// profile.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureRatio: 0.5,
		MinSamples:   5,
		WindowSize:   20,
		Cooldown:     30 * time.Second,
	}
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker fails fast once the failure ratio over a sampling
// window trips it. After a cooldown it half-opens and admits a single
// trial call; the trial's result decides between closing and reopening.
type CircuitBreaker struct {
	name   string
	config BreakerConfig

	mu            sync.Mutex
	state         breakerState
	results       []bool // ring buffer of recent outcomes, true = success
	next          int
	count         int
	openedAt      time.Time
	trialInFlight bool

	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	if config.WindowSize <= 0 {
		config.WindowSize = 20
	}
	return &CircuitBreaker{
		name:    name,
		config:  config,
		results: make([]bool, config.WindowSize),
		now:     time.Now,
	}
}

// Allow reports whether a call may proceed. While open it returns an
// AppError with code CIRCUIT_OPEN; while half-open it admits exactly
// one trial call.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return nil
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return apperrors.New(apperrors.ErrCircuitOpen, "circuit breaker "+b.name+" is open")
		}
		b.transition(breakerHalfOpen)
		b.trialInFlight = true
		return nil
	default: // half-open
		if b.trialInFlight {
			return apperrors.New(apperrors.ErrCircuitOpen, "circuit breaker "+b.name+" is half-open, trial in flight")
		}
		b.trialInFlight = true
		return nil
	}
}

// Record feeds a call outcome back into the breaker.
func (b *CircuitBreaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerHalfOpen:
		b.trialInFlight = false
		if success {
			b.reset()
			b.transition(breakerClosed)
		} else {
			b.openedAt = b.now()
			b.transition(breakerOpen)
		}
	case breakerClosed:
		b.push(success)
		if b.count >= b.config.MinSamples && b.failureRatio() >= b.config.FailureRatio {
			b.openedAt = b.now()
			b.transition(breakerOpen)
		}
	case breakerOpen:
		// A call that was admitted just before the breaker opened;
		// nothing to sample.
	}
}

// State returns the breaker's current state name.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func (b *CircuitBreaker) push(success bool) {
	b.results[b.next] = success
	b.next = (b.next + 1) % len(b.results)
	if b.count < len(b.results) {
		b.count++
	}
}

func (b *CircuitBreaker) failureRatio() float64 {
	if b.count == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < b.count; i++ {
		if !b.results[i] {
			failures++
		}
	}
	return float64(failures) / float64(b.count)
}

func (b *CircuitBreaker) reset() {
	for i := range b.results {
		b.results[i] = false
	}
	b.next = 0
	b.count = 0
	b.trialInFlight = false
}

func (b *CircuitBreaker) transition(to breakerState) {
	from := b.state
	b.state = to
	logging.Info("Circuit breaker state changed",
		map[string]interface{}{
			"breaker": b.name,
			"from":    from.String(),
			"to":      to.String(),
		})
}
