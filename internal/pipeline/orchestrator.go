// Package pipeline sequences a lead through qualification, enrichment,
// deduplication, and CRM creation, applying each stage's failure policy.
package pipeline

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/dedup"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/provider"
	"github.com/sells-group/lead-pipeline/internal/stage"
	"github.com/sells-group/lead-pipeline/internal/store"
)

// Timeouts bound each stage and the run as a whole.
type Timeouts struct {
	Qualification time.Duration `yaml:"qualification" mapstructure:"qualification"`
	Enrichment    time.Duration `yaml:"enrichment" mapstructure:"enrichment"`
	Deduplication time.Duration `yaml:"deduplication" mapstructure:"deduplication"`
	CRM           time.Duration `yaml:"crm" mapstructure:"crm"`
	Total         time.Duration `yaml:"total" mapstructure:"total"`
}

// Config holds the orchestrator's business thresholds and budgets.
type Config struct {
	MinQualificationScore float64  `yaml:"min_qualification_score" mapstructure:"min_qualification_score"`
	FallbackScore         float64  `yaml:"fallback_score" mapstructure:"fallback_score"`
	Timeouts              Timeouts `yaml:"timeouts" mapstructure:"timeouts"`
}

// DefaultConfig returns the default thresholds and latency budgets.
func DefaultConfig() Config {
	return Config{
		MinQualificationScore: 60,
		FallbackScore:         50,
		Timeouts: Timeouts{
			Qualification: time.Second,
			Enrichment:    3 * time.Second,
			Deduplication: 100 * time.Millisecond,
			CRM:           2 * time.Second,
			Total:         5 * time.Second,
		},
	}
}

// recordTimeout bounds the history write, which outlives a cancelled run.
const recordTimeout = 5 * time.Second

// Orchestrator runs leads through the pipeline. It holds no per-run state
// and is safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	providers provider.Set
	engine    *dedup.Engine
	corpus    *dedup.Holder
	recorder  store.Recorder
	exec      *stage.Executor
	now       func() time.Time
	newID     func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the clock used for run timestamps and stage latency.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
		o.exec = stage.NewExecutor().WithClock(now)
	}
}

// WithIDFunc overrides run ID generation.
func WithIDFunc(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New creates an orchestrator. A nil recorder disables history.
func New(cfg Config, providers provider.Set, engine *dedup.Engine, corpus *dedup.Holder, recorder store.Recorder, opts ...Option) *Orchestrator {
	if corpus == nil {
		corpus = dedup.NewHolder(nil)
	}
	o := &Orchestrator{
		cfg:       cfg,
		providers: providers,
		engine:    engine,
		corpus:    corpus,
		recorder:  recorder,
		exec:      stage.NewExecutor(),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the orchestrator configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Run executes one lead. The only error it returns is a *ValidationError,
// in which case no stage runs and nothing is recorded. Every other outcome,
// including provider failures and cancellation, is reported on the result.
func (o *Orchestrator) Run(ctx context.Context, lead model.LeadInput, opts model.PipelineOptions) (*model.PipelineResult, error) {
	if err := ValidateLead(lead); err != nil {
		return nil, err
	}

	runCtx := ctx
	if o.cfg.Timeouts.Total > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.Timeouts.Total)
		defer cancel()
	}

	result := model.NewPipelineResult(o.newID(), lead.Clone(), opts, o.now())
	log := zap.L().With(zap.String("run_id", result.RunID), zap.String("lead", lead.Name))
	log.Info("pipeline: starting run",
		zap.Bool("dry_run", opts.DryRun),
		zap.Bool("create_in_crm", opts.CreateInCRM),
	)

	status := o.execute(runCtx, ctx, result, lead.Clone(), opts)

	if err := result.Finish(status, o.now()); err != nil {
		log.Error("pipeline: finish result", zap.Error(err))
	}
	log.Info("pipeline: run finished",
		zap.String("final_status", string(result.FinalStatus)),
		zap.Int64("total_latency_ms", result.TotalLatencyMs),
		zap.Float64("total_cost_usd", result.TotalCostUSD),
	)

	o.record(ctx, result)
	return result, nil
}

// execute walks the state machine and returns the terminal status. runCtx
// carries the run budget; parent is the caller's context and decides whether
// a failure counts as cancellation.
func (o *Orchestrator) execute(runCtx, parent context.Context, result *model.PipelineResult, lead model.LeadInput, opts model.PipelineOptions) model.FinalStatus {
	appendOutcome := func(out model.StageOutcome) {
		if err := result.Append(out); err != nil {
			zap.L().Error("pipeline: append stage outcome", zap.String("stage", string(out.Stage)), zap.Error(err))
		}
	}

	// Qualifying.
	if runCtx.Err() != nil {
		return model.FinalStatusCancelled
	}
	qual := o.qualify(runCtx, lead)
	appendOutcome(qual)
	if qual.Status != model.StageStatusSuccess && parent.Err() != nil {
		return model.FinalStatusCancelled
	}
	if rejected, _ := qual.Output["rejected"].(bool); rejected {
		return model.FinalStatusRejected
	}

	// Enriching.
	if runCtx.Err() != nil {
		return model.FinalStatusCancelled
	}
	if opts.SkipEnrichment {
		appendOutcome(stage.Skipped(model.StageEnrichment, "skip_enrichment"))
	} else {
		var out model.StageOutcome
		out, lead = o.enrich(runCtx, lead)
		appendOutcome(out)
	}

	// Deduplicating.
	if runCtx.Err() != nil {
		return model.FinalStatusCancelled
	}
	dd, match := o.deduplicate(runCtx, lead, opts)
	appendOutcome(dd)
	if dd.Status == model.StageStatusBlockingFailure {
		if parent.Err() != nil {
			return model.FinalStatusCancelled
		}
		return model.FinalStatusDuplicateHalted
	}

	// CreatingInCRM.
	switch {
	case !opts.CreateInCRM:
		appendOutcome(stage.Skipped(model.StageCRM, "create_in_crm disabled"))
		return model.FinalStatusCompleted
	case opts.DryRun:
		appendOutcome(stage.Skipped(model.StageCRM, "dry_run"))
		return model.FinalStatusCompleted
	}
	if runCtx.Err() != nil {
		return model.FinalStatusCancelled
	}
	crm := o.createInCRM(runCtx, lead, match)
	appendOutcome(crm)
	if crm.Status == model.StageStatusBlockingFailure {
		if parent.Err() != nil {
			return model.FinalStatusCancelled
		}
		return model.FinalStatusCRMFailed
	}
	return model.FinalStatusCompleted
}

func (o *Orchestrator) qualify(ctx context.Context, lead model.LeadInput) model.StageOutcome {
	var q provider.QualificationOutput
	out := o.exec.Run(ctx, model.StageQualification, func(ctx context.Context) (stage.Output, error) {
		var err error
		q, err = o.providers.Qualification.Execute(ctx, lead)
		payload := map[string]any{"score": q.Score}
		if len(q.Reasons) > 0 {
			payload["reasons"] = q.Reasons
		}
		if q.Model != "" {
			payload["model"] = q.Model
		}
		return stage.Output{Payload: payload, CostUSD: q.CostUSD}, err
	}, stage.Policy{
		Fallback: map[string]any{"score": o.cfg.FallbackScore},
		Timeout:  o.cfg.Timeouts.Qualification,
	})

	score := o.cfg.FallbackScore
	if out.Status == model.StageStatusSuccess {
		score = q.Score
	}
	if score < o.cfg.MinQualificationScore {
		// Rejection is a business outcome. A successful call stays a success.
		out.Output = maps.Clone(out.Output)
		if out.Output == nil {
			out.Output = map[string]any{}
		}
		out.Output["rejected"] = true
		out.Output["min_score"] = o.cfg.MinQualificationScore
	}
	return out
}

func (o *Orchestrator) enrich(ctx context.Context, lead model.LeadInput) (model.StageOutcome, model.LeadInput) {
	var e provider.EnrichmentOutput
	out := o.exec.Run(ctx, model.StageEnrichment, func(ctx context.Context) (stage.Output, error) {
		var err error
		e, err = o.providers.Enrichment.Execute(ctx, lead)
		return stage.Output{
			Payload: map[string]any{"fields": e.Fields, "sources": e.Sources},
			CostUSD: e.CostUSD,
		}, err
	}, stage.Policy{
		Fallback: map[string]any{"used_known_fields": true},
		Timeout:  o.cfg.Timeouts.Enrichment,
	})

	if out.Status != model.StageStatusSuccess {
		return out, lead
	}
	merged := lead.Merge(e.Fields)
	out.Output["merged"] = mergedFields(lead, merged)
	return out, merged
}

func (o *Orchestrator) deduplicate(ctx context.Context, lead model.LeadInput, opts model.PipelineOptions) (model.StageOutcome, model.DuplicateMatch) {
	idx := o.corpus.Load()
	var match model.DuplicateMatch
	out := o.exec.Run(ctx, model.StageDeduplication, func(_ context.Context) (stage.Output, error) {
		match = o.engine.Evaluate(lead, idx)
		return stage.Output{Payload: map[string]any{
			"confidence":        match.Confidence,
			"matched_record_id": match.MatchedRecordID,
			"field_scores":      match.FieldScores,
			"is_duplicate":      o.engine.IsDuplicate(match),
			"corpus_size":       idx.Len(),
		}}, nil
	}, dedupPolicy(o.cfg.Timeouts.Deduplication, opts))

	if out.Status != model.StageStatusSuccess {
		return out, model.DuplicateMatch{}
	}
	if opts.StopOnDuplicate && o.engine.IsDuplicate(match) {
		out.Status = model.StageStatusBlockingFailure
		out.Error = &model.StageError{
			Class: model.ErrorClassBlocking,
			Message: fmt.Sprintf("lead matches existing record %s with confidence %.1f (threshold %.1f)",
				match.MatchedRecordID, match.Confidence, o.engine.Config().Threshold),
			Hint: model.HintReviewDuplicate,
		}
		zap.L().Warn("pipeline: duplicate detected, halting",
			zap.String("lead", lead.Name),
			zap.String("matched_record_id", match.MatchedRecordID),
			zap.Float64("confidence", match.Confidence),
		)
	}
	return out, match
}

// dedupPolicy fails closed when duplicates must halt the run: an overrun
// blocks with a retry hint instead of passing an unchecked lead to the CRM.
// Otherwise the in-memory read runs unbounded and only reports.
func dedupPolicy(timeout time.Duration, opts model.PipelineOptions) stage.Policy {
	if opts.StopOnDuplicate {
		return stage.Policy{Blocking: true, Timeout: timeout}
	}
	return stage.Policy{Fallback: map[string]any{"confidence": 0.0}}
}

func (o *Orchestrator) createInCRM(ctx context.Context, lead model.LeadInput, match model.DuplicateMatch) model.StageOutcome {
	return o.exec.Run(ctx, model.StageCRM, func(ctx context.Context) (stage.Output, error) {
		c, err := o.providers.CRM.Execute(ctx, provider.CRMRequest{Lead: lead, Match: match})
		var payload map[string]any
		if c.RecordID != "" {
			payload = map[string]any{"lead_id": c.RecordID}
		}
		return stage.Output{Payload: payload, CostUSD: c.CostUSD}, err
	}, stage.Policy{
		Blocking: true,
		Timeout:  o.cfg.Timeouts.CRM,
	})
}

// record hands the finished result to the recorder. It runs even when the
// caller's context is cancelled so partial runs are not lost.
func (o *Orchestrator) record(ctx context.Context, result *model.PipelineResult) {
	if o.recorder == nil {
		return
	}
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := o.recorder.Append(recCtx, result); err != nil {
		zap.L().Error("pipeline: failed to record execution",
			zap.String("run_id", result.RunID),
			zap.String("lead", result.Lead.Name),
			zap.Error(err),
		)
	}
}

func mergedFields(before, after model.LeadInput) []string {
	var out []string
	check := func(name, a, b string) {
		if a != b {
			out = append(out, name)
		}
	}
	check("email", before.Email, after.Email)
	check("phone", before.Phone, after.Phone)
	check("company", before.Company, after.Company)
	check("website", before.Website, after.Website)
	check("title", before.Title, after.Title)
	check("industry", before.Industry, after.Industry)
	return out
}
