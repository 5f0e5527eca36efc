package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// StageName identifies one discrete step of the pipeline.
type StageName string

const (
	StageQualification StageName = "qualification"
	StageEnrichment    StageName = "enrichment"
	StageDeduplication StageName = "deduplication"
	StageCRM           StageName = "close_crm"
)

// Stages lists the pipeline stages in execution order.
var Stages = []StageName{StageQualification, StageEnrichment, StageDeduplication, StageCRM}

// StageStatus is the normalized outcome of a stage.
type StageStatus string

const (
	StageStatusSuccess            StageStatus = "success"
	StageStatusNonBlockingFailure StageStatus = "non_blocking_failure"
	StageStatusBlockingFailure    StageStatus = "blocking_failure"
	StageStatusSkipped            StageStatus = "skipped"
)

// Ran reports whether the stage actually executed (anything but skipped).
func (s StageStatus) Ran() bool {
	return s != StageStatusSkipped && s != ""
}

// ErrorClass classifies a user-visible failure.
type ErrorClass string

const (
	ErrorClassBusiness    ErrorClass = "business"
	ErrorClassNonBlocking ErrorClass = "non_blocking"
	ErrorClassBlocking    ErrorClass = "blocking"
	ErrorClassValidation  ErrorClass = "validation"
)

// Remediation hints surfaced with blocking failures.
const (
	HintRetry           = "retry"
	HintCheckCredential = "check CRM credentials"
	HintReviewDuplicate = "review duplicate match"
)

// StageError is the typed error attached to a stage outcome.
type StageError struct {
	Class   ErrorClass `json:"class"`
	Message string     `json:"message"`
	Hint    string     `json:"hint,omitempty"`
}

func (e *StageError) Error() string {
	return string(e.Class) + ": " + e.Message
}

// StageOutcome is the normalized result of running one stage.
type StageOutcome struct {
	Stage     StageName      `json:"stage"`
	Status    StageStatus    `json:"status"`
	LatencyMs int64          `json:"latency_ms"`
	CostUSD   float64        `json:"cost_usd"`
	Output    map[string]any `json:"output,omitempty"`
	Error     *StageError    `json:"error,omitempty"`
}

// DuplicateMatch is the decision produced by the deduplication engine.
type DuplicateMatch struct {
	Confidence      float64            `json:"confidence"`
	MatchedRecordID string             `json:"matched_record_id,omitempty"`
	FieldScores     map[string]float64 `json:"field_scores,omitempty"`
}

// FinalStatus is the terminal state of a pipeline run.
type FinalStatus string

const (
	FinalStatusCompleted       FinalStatus = "completed"
	FinalStatusRejected        FinalStatus = "rejected"
	FinalStatusDuplicateHalted FinalStatus = "duplicate_halted"
	FinalStatusCRMFailed       FinalStatus = "crm_failed"
	FinalStatusCancelled       FinalStatus = "cancelled"
)

// TimelineSegment attributes a slice of the run's wall time to one stage.
type TimelineSegment struct {
	Stage   StageName `json:"stage"`
	StartMs int64     `json:"start_ms"`
	EndMs   int64     `json:"end_ms"`
}

// ErrResultFinished is returned when a finished result is mutated.
var ErrResultFinished = eris.New("model: pipeline result is already finished")

// PipelineResult aggregates the outcome of one pipeline run. It is mutated
// only by Append until Finish sets the final status.
type PipelineResult struct {
	RunID          string            `json:"run_id"`
	Lead           LeadInput         `json:"lead"`
	Options        PipelineOptions   `json:"options"`
	Stages         []StageOutcome    `json:"stages"`
	FinalStatus    FinalStatus       `json:"final_status,omitempty"`
	TotalLatencyMs int64             `json:"total_latency_ms"`
	TotalCostUSD   float64           `json:"total_cost_usd"`
	Timeline       []TimelineSegment `json:"timeline"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
}

// NewPipelineResult starts a result for the given lead.
func NewPipelineResult(runID string, lead LeadInput, opts PipelineOptions, startedAt time.Time) *PipelineResult {
	return &PipelineResult{
		RunID:     runID,
		Lead:      lead,
		Options:   opts,
		Stages:    []StageOutcome{},
		Timeline:  []TimelineSegment{},
		StartedAt: startedAt,
	}
}

// Append records a stage outcome. Stages that ran extend the timeline and
// accumulate latency and cost; skipped stages are listed but add nothing.
func (r *PipelineResult) Append(o StageOutcome) error {
	if r.Finished() {
		return ErrResultFinished
	}
	r.Stages = append(r.Stages, o)
	if !o.Status.Ran() {
		return nil
	}
	start := r.TotalLatencyMs
	r.TotalLatencyMs += o.LatencyMs
	r.TotalCostUSD += o.CostUSD
	r.Timeline = append(r.Timeline, TimelineSegment{
		Stage:   o.Stage,
		StartMs: start,
		EndMs:   r.TotalLatencyMs,
	})
	return nil
}

// Finish sets the terminal status. A result can be finished only once.
func (r *PipelineResult) Finish(status FinalStatus, at time.Time) error {
	if r.Finished() {
		return ErrResultFinished
	}
	r.FinalStatus = status
	r.FinishedAt = &at
	return nil
}

// Finished reports whether a final status has been set.
func (r *PipelineResult) Finished() bool {
	return r.FinalStatus != ""
}

// Succeeded reports whether the run completed.
func (r *PipelineResult) Succeeded() bool {
	return r.FinalStatus == FinalStatusCompleted
}

// Stage returns the outcome for the named stage, if present.
func (r *PipelineResult) Stage(name StageName) (StageOutcome, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageOutcome{}, false
}

// FailedStage returns the first outcome carrying a non-business error
// classification, preferring blocking failures.
func (r *PipelineResult) FailedStage() (StageOutcome, bool) {
	var fallback *StageOutcome
	for i := range r.Stages {
		s := r.Stages[i]
		if s.Status == StageStatusBlockingFailure {
			return s, true
		}
		if s.Error != nil && fallback == nil {
			fallback = &r.Stages[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return StageOutcome{}, false
}
