// Package sync provides the bidirectional reconciliation engine between
// the local store and the remote task service.
package sync

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/tasknexus/backend/internal/errors"
	"github.com/tasknexus/backend/internal/logging"
	"github.com/tasknexus/backend/internal/remote"
)

// Profile holds the retry, backoff and breaker parameters for one class
// of operation.
type Profile struct {
	Name        string
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // first backoff delay
	MaxDelay    time.Duration // backoff cap
	Multiplier  float64       // exponential growth factor
	Jitter      float64       // fraction of the delay added/subtracted at random
	Timeout     time.Duration // per-attempt timeout, 0 = none
	RetryIf     func(error) bool
	Breaker     *BreakerConfig // nil = no circuit breaker
}

// RemoteCallProfile covers direct calls to the remote task service.
// Transport failures and 5xx/408/429 responses retry; other 4xx
// responses are terminal. A circuit breaker fails fast when the remote
// side is persistently down.
func RemoteCallProfile() Profile {
	return Profile{
		Name:        "remote-call",
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
		Timeout:     30 * time.Second,
		RetryIf:     isRetryableRemote,
		Breaker:     DefaultBreakerConfig(),
	}
}

// PersistenceProfile covers local store operations: fewer retries,
// shorter delays, and only connection/timeout-flavored failures retry.
func PersistenceProfile() Profile {
	return Profile{
		Name:        "persistence-call",
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
		Timeout:     5 * time.Second,
		RetryIf:     isRetryablePersistence,
	}
}

// ReconciliationProfile wraps a full per-entity sync attempt, which may
// itself include remote calls, so its delays are longer than the
// remote-call profile's. Conflict failures are excluded: retrying a
// conflict does not change the outcome.
func ReconciliationProfile() Profile {
	return Profile{
		Name:        "reconciliation-call",
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
		Timeout:     2 * time.Minute,
		RetryIf:     isRetryableReconciliation,
	}
}

func isRetryableRemote(err error) bool {
	if remote.IsTransport(err) {
		return true
	}
	switch code := remote.StatusCode(err); {
	case code >= 500:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	}
	// Context timeouts from the per-attempt deadline count as transport
	// flavored failures.
	return errors.Is(err, context.DeadlineExceeded)
}

func isRetryablePersistence(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy")
}

func isRetryableReconciliation(err error) bool {
	if apperrors.Is(err, apperrors.ErrSyncConflict) || apperrors.Is(err, apperrors.ErrManualResolution) {
		return false
	}
	return isRetryableRemote(err) || isRetryablePersistence(err)
}

// Executor runs an operation under a Profile's retry/backoff/breaker
// policy. It is stateless apart from its breaker and safe for use from
// the single sync worker.
type Executor struct {
	profile  Profile
	breaker  *CircuitBreaker
	disabled bool

	// sleep is overridable so tests run without real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor for the given profile. When disabled
// is set the executor degrades to "call once, immediately", used where
// retries are undesirable, such as deterministic tests.
func NewExecutor(profile Profile, disabled bool) *Executor {
	e := &Executor{
		profile:  profile,
		disabled: disabled,
		sleep:    sleepCtx,
	}
	if profile.Breaker != nil && !disabled {
		e.breaker = NewCircuitBreaker(profile.Name, *profile.Breaker)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs op, retrying per the profile. op is the operation name
// used for logging.
func (e *Executor) Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if e.disabled {
		return fn(ctx)
	}

	if e.breaker != nil {
		if err := e.breaker.Allow(); err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= e.profile.MaxAttempts; attempt++ {
		lastErr = e.runAttempt(ctx, fn)

		if e.breaker != nil {
			e.breaker.Record(lastErr == nil)
		}

		if lastErr == nil {
			return nil
		}

		if attempt == e.profile.MaxAttempts || e.profile.RetryIf == nil || !e.profile.RetryIf(lastErr) {
			return lastErr
		}

		delay := e.backoffDelay(attempt)
		logging.Warn("Retrying operation",
			map[string]interface{}{
				"profile":  e.profile.Name,
				"op":       op,
				"attempt":  attempt,
				"delay_ms": delay.Milliseconds(),
				"error":    lastErr.Error(),
			})

		if err := e.sleep(ctx, delay); err != nil {
			return err
		}

		// Each retry is a fresh trial call from the breaker's view.
		if e.breaker != nil {
			if err := e.breaker.Allow(); err != nil {
				return err
			}
		}
	}

	return lastErr
}

func (e *Executor) runAttempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if e.profile.Timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, e.profile.Timeout)
	defer cancel()
	return fn(attemptCtx)
}

// backoffDelay computes the exponential backoff delay for the given
// attempt (1-based), with jitter, capped at MaxDelay.
func (e *Executor) backoffDelay(attempt int) time.Duration {
	base := float64(e.profile.BaseDelay) * math.Pow(e.profile.Multiplier, float64(attempt-1))
	if capped := float64(e.profile.MaxDelay); base > capped {
		base = capped
	}
	if e.profile.Jitter > 0 {
		span := base * e.profile.Jitter
		base = base - span/2 + rand.Float64()*span
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}

// ExecutorSet bundles the three resilience profiles the orchestrator
// uses. A single switch disables all of them together.
type ExecutorSet struct {
	Remote      *Executor
	Persistence *Executor
	Reconcile   *Executor
}

// NewExecutorSet builds the standard three-profile set.
func NewExecutorSet(disabled bool) *ExecutorSet {
	return &ExecutorSet{
		Remote:      NewExecutor(RemoteCallProfile(), disabled),
		Persistence: NewExecutor(PersistenceProfile(), disabled),
		Reconcile:   NewExecutor(ReconciliationProfile(), disabled),
	}
}
