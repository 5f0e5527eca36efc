// Package stage runs a single pipeline stage against an external provider
// and normalizes every result, including failures, into a StageOutcome.
package stage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// Output is what a provider call hands back to the executor.
type Output struct {
	Payload map[string]any
	CostUSD float64
}

// Call wraps one external provider invocation. A call may return a non-zero
// CostUSD alongside an error when the provider billed a failed request.
type Call func(ctx context.Context) (Output, error)

// Policy declares how a stage reacts to provider failure.
type Policy struct {
	// Blocking stages terminate the pipeline on failure.
	Blocking bool
	// Fallback replaces the output of a failed non-blocking stage.
	Fallback map[string]any
	// Timeout bounds the provider call. Zero means no stage-level limit.
	Timeout time.Duration
}

// Executor runs stages and measures their latency.
type Executor struct {
	now func() time.Time
}

// NewExecutor creates a stage executor using the wall clock.
func NewExecutor() *Executor {
	return &Executor{now: time.Now}
}

// WithClock overrides the clock, for tests.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Run executes call under policy. It never returns an error: provider
// failures, timeouts, and panics all become a failure status on the outcome.
func (e *Executor) Run(ctx context.Context, name model.StageName, call Call, policy Policy) model.StageOutcome {
	callCtx := ctx
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	start := e.now()
	out, err := safeCall(callCtx, call)
	latency := e.now().Sub(start).Milliseconds()

	if err == nil {
		if late := overran(callCtx); late != nil {
			// The provider ignored cancellation and returned late.
			err = eris.Wrap(late, fmt.Sprintf("stage %s: provider exceeded budget", name))
		}
	}

	outcome := model.StageOutcome{
		Stage:     name,
		LatencyMs: latency,
		CostUSD:   out.CostUSD,
	}

	log := zap.L().With(
		zap.String("stage", string(name)),
		zap.Int64("latency_ms", latency),
		zap.Float64("cost_usd", out.CostUSD),
	)

	if err == nil {
		outcome.Status = model.StageStatusSuccess
		outcome.Output = out.Payload
		log.Debug("stage: complete")
		return outcome
	}

	if policy.Blocking {
		outcome.Status = model.StageStatusBlockingFailure
		outcome.Output = out.Payload
		outcome.Error = &model.StageError{
			Class:   model.ErrorClassBlocking,
			Message: err.Error(),
			Hint:    remediationHint(err),
		}
		log.Error("stage: blocking failure", zap.Error(err))
		return outcome
	}

	outcome.Status = model.StageStatusNonBlockingFailure
	outcome.Output = maps.Clone(policy.Fallback)
	outcome.Error = &model.StageError{
		Class:   model.ErrorClassNonBlocking,
		Message: err.Error(),
	}
	log.Warn("stage: non-blocking failure, using fallback", zap.Error(err))
	return outcome
}

// Skipped builds the outcome for a stage that was not executed.
func Skipped(name model.StageName, reason string) model.StageOutcome {
	return model.StageOutcome{
		Stage:  name,
		Status: model.StageStatusSkipped,
		Output: map[string]any{"reason": reason},
	}
}

func safeCall(ctx context.Context, call Call) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("stage: provider panic: %v", r)
		}
	}()
	return call(ctx)
}

// overran reports a call that finished at or past its deadline, even when
// the context timer has not fired yet.
func overran(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dl, ok := ctx.Deadline(); ok && !time.Now().Before(dl) {
		return context.DeadlineExceeded
	}
	return nil
}

// duplicateRejection is implemented by CRM errors raised when the CRM's own
// duplicate rules refuse a record.
type duplicateRejection interface {
	Duplicate() bool
}

func remediationHint(err error) string {
	var dup duplicateRejection
	switch {
	case errors.As(err, &dup) && dup.Duplicate():
		return model.HintReviewDuplicate
	case resilience.IsAuthError(err):
		return model.HintCheckCredential
	default:
		return model.HintRetry
	}
}
