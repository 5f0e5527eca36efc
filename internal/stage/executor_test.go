package stage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// stepClock advances by step on every call.
func stepClock(step time.Duration) func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		now := t
		t = t.Add(step)
		return now
	}
}

func TestRun_Success(t *testing.T) {
	e := NewExecutor().WithClock(stepClock(250 * time.Millisecond))

	out := e.Run(context.Background(), model.StageQualification, func(_ context.Context) (Output, error) {
		return Output{Payload: map[string]any{"score": 72.0}, CostUSD: 0.004}, nil
	}, Policy{Fallback: map[string]any{"score": 50.0}})

	assert.Equal(t, model.StageStatusSuccess, out.Status)
	assert.Equal(t, int64(250), out.LatencyMs)
	assert.InDelta(t, 0.004, out.CostUSD, 1e-9)
	assert.Equal(t, 72.0, out.Output["score"])
	assert.Nil(t, out.Error)
}

func TestRun_NonBlockingFailureUsesFallback(t *testing.T) {
	e := NewExecutor()
	fallback := map[string]any{"score": 50.0}

	out := e.Run(context.Background(), model.StageQualification, func(_ context.Context) (Output, error) {
		return Output{CostUSD: 0.001}, errors.New("503 overloaded")
	}, Policy{Fallback: fallback})

	assert.Equal(t, model.StageStatusNonBlockingFailure, out.Status)
	assert.Equal(t, 50.0, out.Output["score"])
	assert.InDelta(t, 0.001, out.CostUSD, 1e-9, "billed failures keep their cost")
	require.NotNil(t, out.Error)
	assert.Equal(t, model.ErrorClassNonBlocking, out.Error.Class)

	out.Output["score"] = 1.0
	assert.Equal(t, 50.0, fallback["score"], "fallback must be copied")
}

func TestRun_BlockingFailure(t *testing.T) {
	e := NewExecutor()

	out := e.Run(context.Background(), model.StageCRM, func(_ context.Context) (Output, error) {
		return Output{}, errors.New("INVALID_SESSION_ID: Session expired")
	}, Policy{Blocking: true})

	assert.Equal(t, model.StageStatusBlockingFailure, out.Status)
	require.NotNil(t, out.Error)
	assert.Equal(t, model.ErrorClassBlocking, out.Error.Class)
	assert.Equal(t, model.HintCheckCredential, out.Error.Hint)
}

func TestRun_BlockingFailureDefaultHintIsRetry(t *testing.T) {
	out := NewExecutor().Run(context.Background(), model.StageCRM, func(_ context.Context) (Output, error) {
		return Output{}, errors.New("UNABLE_TO_LOCK_ROW")
	}, Policy{Blocking: true})

	require.NotNil(t, out.Error)
	assert.Equal(t, model.HintRetry, out.Error.Hint)
}

type dupRuleError struct{}

func (dupRuleError) Error() string   { return "DUPLICATES_DETECTED" }
func (dupRuleError) Duplicate() bool { return true }

func TestRun_DuplicateRuleHint(t *testing.T) {
	out := NewExecutor().Run(context.Background(), model.StageCRM, func(_ context.Context) (Output, error) {
		return Output{}, fmt.Errorf("create lead: %w", dupRuleError{})
	}, Policy{Blocking: true})

	require.NotNil(t, out.Error)
	assert.Equal(t, model.HintReviewDuplicate, out.Error.Hint)
}

func TestRun_TimeoutIsProviderError(t *testing.T) {
	e := NewExecutor()

	out := e.Run(context.Background(), model.StageEnrichment, func(ctx context.Context) (Output, error) {
		<-ctx.Done()
		return Output{}, ctx.Err()
	}, Policy{Timeout: 10 * time.Millisecond, Fallback: map[string]any{}})

	assert.Equal(t, model.StageStatusNonBlockingFailure, out.Status)
	require.NotNil(t, out.Error)
	assert.Contains(t, out.Error.Message, "deadline exceeded")
}

func TestRun_LateSuccessAfterTimeoutIsFailure(t *testing.T) {
	e := NewExecutor()

	out := e.Run(context.Background(), model.StageCRM, func(ctx context.Context) (Output, error) {
		<-ctx.Done()
		return Output{Payload: map[string]any{"lead_id": "00Q1"}}, nil
	}, Policy{Blocking: true, Timeout: 5 * time.Millisecond})

	assert.Equal(t, model.StageStatusBlockingFailure, out.Status)
}

func TestRun_PastDeadlineWithoutWaitingIsFailure(t *testing.T) {
	e := NewExecutor()

	out := e.Run(context.Background(), model.StageDeduplication, func(ctx context.Context) (Output, error) {
		dl, ok := ctx.Deadline()
		require.True(t, ok)
		for time.Now().Before(dl) {
		}
		return Output{Payload: map[string]any{"confidence": 0.0}}, nil
	}, Policy{Blocking: true, Timeout: time.Millisecond})

	assert.Equal(t, model.StageStatusBlockingFailure, out.Status)
	require.NotNil(t, out.Error)
	assert.Contains(t, out.Error.Message, "exceeded budget")
	assert.Equal(t, model.HintRetry, out.Error.Hint)
}

func TestRun_PanicIsRecovered(t *testing.T) {
	e := NewExecutor()

	out := e.Run(context.Background(), model.StageEnrichment, func(_ context.Context) (Output, error) {
		panic("nil map")
	}, Policy{})

	assert.Equal(t, model.StageStatusNonBlockingFailure, out.Status)
	require.NotNil(t, out.Error)
	assert.Contains(t, out.Error.Message, "nil map")
}

func TestSkipped(t *testing.T) {
	out := Skipped(model.StageCRM, "dry_run")
	assert.Equal(t, model.StageStatusSkipped, out.Status)
	assert.Zero(t, out.LatencyMs)
	assert.Equal(t, "dry_run", out.Output["reason"])
}
