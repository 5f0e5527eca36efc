// Package resilience provides circuit breaker and retry patterns for
// external provider calls.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the cool-down elapses.
	CircuitOpen
	// CircuitHalfOpen admits a limited number of probe calls.
	CircuitHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s CircuitState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrCircuitOpen matches every rejection by an open breaker.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// OpenError is returned instead of calling the provider while its breaker is
// open or its probe slots are taken.
type OpenError struct {
	Name    string
	RetryIn time.Duration
}

func (e *OpenError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s (retry in %s)", ErrCircuitOpen, e.RetryIn.Round(time.Second))
	}
	return fmt.Sprintf("%s: %s (retry in %s)", e.Name, ErrCircuitOpen, e.RetryIn.Round(time.Second))
}

func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// Name labels errors and log lines.
	Name string

	// FailureThreshold opens the circuit after this many consecutive
	// provider failures. Default: 5.
	FailureThreshold int

	// ResetTimeout is the open-state cool-down. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMaxProbes caps concurrent probes while half-open. That many
	// successes close the circuit. Default: 1.
	HalfOpenMaxProbes int

	// ShouldTrip decides which errors count as failures. Default: every
	// error except caller cancellation.
	ShouldTrip func(err error) bool

	// OnStateChange is called, under the breaker lock, on every transition.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the breaker defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// NewCircuitBreakerConfig builds a CircuitBreakerConfig from config-file
// units. Non-positive values keep the defaults.
func NewCircuitBreakerConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// BreakerStatus is a point-in-time view of a breaker.
type BreakerStatus struct {
	State    CircuitState
	Failures int
	OpenedAt time.Time
}

// CircuitBreaker guards one provider. It is shared by every run that calls
// the provider.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	inProbe  int
	probeOK  int
}

// NewCircuitBreaker creates a closed breaker. Zero config fields take the
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = tripOnProviderError
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// A batch abort must not mark a healthy provider as down.
func tripOnProviderError(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// ExecuteVal runs fn through the breaker. While open it returns an
// *OpenError without calling fn.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	probe, err := cb.admit()
	if err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	cb.record(probe, err)
	return val, err
}

// State returns the current state. An open breaker whose cool-down has
// elapsed reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	return cb.Status().State
}

// Status returns the breaker's state and failure count.
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	st := BreakerStatus{State: cb.state, Failures: cb.failures, OpenedAt: cb.openedAt}
	if cb.state == CircuitOpen && cb.coolDownLeft() <= 0 {
		st.State = CircuitHalfOpen
	}
	return st
}

func (cb *CircuitBreaker) coolDownLeft() time.Duration {
	return cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
}

// admit reports whether the call is a half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		left := cb.coolDownLeft()
		if left > 0 {
			return false, &OpenError{Name: cb.cfg.Name, RetryIn: left}
		}
		cb.moveTo(CircuitHalfOpen)
	}
	if cb.state == CircuitHalfOpen {
		if cb.inProbe >= cb.cfg.HalfOpenMaxProbes {
			return false, &OpenError{Name: cb.cfg.Name}
		}
		cb.inProbe++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.inProbe--
	}
	failed := err != nil && cb.cfg.ShouldTrip(err)

	switch {
	case !failed && cb.state == CircuitHalfOpen && probe:
		cb.probeOK++
		if cb.probeOK >= cb.cfg.HalfOpenMaxProbes {
			cb.failures = 0
			cb.moveTo(CircuitClosed)
		}
	case !failed:
		if cb.state == CircuitClosed {
			cb.failures = 0
		}
	case cb.state == CircuitHalfOpen:
		cb.failures++
		cb.trip()
	case cb.state == CircuitClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.trip()
		}
	}
}

func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.now()
	cb.moveTo(CircuitOpen)
}

func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.probeOK = 0
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
