package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProvider = errors.New("provider unavailable")

func call(cb *CircuitBreaker, err error) error {
	_, got := ExecuteVal(context.Background(), cb, func(_ context.Context) (struct{}, error) {
		return struct{}{}, err
	})
	return got
}

// clock returns a breaker whose time only moves when advance is called.
func clock(cfg CircuitBreakerConfig) (*CircuitBreaker, func(time.Duration)) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(cfg)
	cb.now = func() time.Time { return now }
	return cb, func(d time.Duration) { now = now.Add(d) }
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := clock(CircuitBreakerConfig{Name: "crm", FailureThreshold: 3, ResetTimeout: time.Minute})

	for range 3 {
		assert.ErrorIs(t, call(cb, errProvider), errProvider)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	called := false
	_, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (string, error) {
		called = true
		return "00Q1", nil
	})
	assert.False(t, called)
	require.ErrorIs(t, err, ErrCircuitOpen)

	var oe *OpenError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, time.Minute, oe.RetryIn)
	assert.Equal(t, "crm: circuit breaker is open (retry in 1m0s)", err.Error())
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	_ = call(cb, errProvider)
	_ = call(cb, errProvider)
	assert.Equal(t, BreakerStatus{State: CircuitClosed, Failures: 2}, cb.Status())

	require.NoError(t, call(cb, nil))
	assert.Zero(t, cb.Status().Failures)
}

func TestCircuitBreaker_CancellationDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})

	assert.ErrorIs(t, call(cb, context.Canceled), context.Canceled)
	assert.Equal(t, CircuitClosed, cb.State())

	_ = call(cb, context.DeadlineExceeded)
	assert.Equal(t, CircuitOpen, cb.State(), "timeouts count against the provider")
}

func TestCircuitBreaker_HalfOpenProbeCloses(t *testing.T) {
	var transitions []CircuitState
	cb, advance := clock(CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     100 * time.Millisecond,
		OnStateChange:    func(_, to CircuitState) { transitions = append(transitions, to) },
	})

	_ = call(cb, errProvider)
	_ = call(cb, errProvider)
	require.Equal(t, CircuitOpen, cb.State())

	advance(200 * time.Millisecond)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, call(cb, nil))
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, []CircuitState{CircuitOpen, CircuitHalfOpen, CircuitClosed}, transitions)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, advance := clock(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 100 * time.Millisecond})

	_ = call(cb, errProvider)
	advance(time.Second)
	_ = call(cb, errProvider)

	st := cb.Status()
	assert.Equal(t, CircuitOpen, st.State)
	assert.Equal(t, 2, st.Failures)
	assert.ErrorIs(t, call(cb, nil), ErrCircuitOpen, "cool-down restarts from the failed probe")
}

func TestCircuitBreaker_HalfOpenAdmitsOneProbe(t *testing.T) {
	cb, advance := clock(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	_ = call(cb, errProvider)
	advance(2 * time.Second)

	probing := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
			close(probing)
			<-release
			return 1, nil
		})
		done <- err
	}()
	<-probing

	assert.ErrorIs(t, call(cb, nil), ErrCircuitOpen, "second caller is shed while the probe runs")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_ = call(cb, nil)
			} else {
				_ = call(cb, errProvider)
			}
			_ = cb.State()
		}()
	}
	wg.Wait()
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}

func TestNewCircuitBreakerConfig(t *testing.T) {
	cfg := NewCircuitBreakerConfig(0, 30)
	assert.Equal(t, DefaultCircuitBreakerConfig().FailureThreshold, cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.ResetTimeout)
}
