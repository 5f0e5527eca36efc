package pipeline

import (
	"fmt"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// StageView is one stage as reported to API and CLI callers.
type StageView struct {
	Status     model.StageStatus `json:"status"`
	LatencyMs  int64             `json:"latency_ms"`
	CostUSD    float64           `json:"cost_usd"`
	Output     map[string]any    `json:"output,omitempty"`
	Confidence *float64          `json:"confidence,omitempty"`
	LeadID     string            `json:"lead_id,omitempty"`
	Error      *model.StageError `json:"error,omitempty"`
}

// ErrorDetail is the user-visible description of why a run did not complete.
type ErrorDetail struct {
	Stage   model.StageName  `json:"stage,omitempty"`
	Class   model.ErrorClass `json:"class"`
	Message string           `json:"message"`
	Hint    string           `json:"hint,omitempty"`
	Fields  []FieldError     `json:"fields,omitempty"`
}

// Response is the caller-facing summary of a pipeline run.
type Response struct {
	RunID          string                        `json:"run_id,omitempty"`
	Success        bool                          `json:"success"`
	FinalStatus    model.FinalStatus             `json:"final_status,omitempty"`
	TotalLatencyMs int64                         `json:"total_latency_ms"`
	TotalCostUSD   float64                       `json:"total_cost_usd"`
	Stages         map[model.StageName]StageView `json:"stages"`
	Timeline       []model.TimelineSegment       `json:"timeline"`
	Error          *ErrorDetail                  `json:"error,omitempty"`
}

// ToResponse renders a finished result.
func ToResponse(r *model.PipelineResult) Response {
	resp := Response{
		RunID:          r.RunID,
		Success:        r.Succeeded(),
		FinalStatus:    r.FinalStatus,
		TotalLatencyMs: r.TotalLatencyMs,
		TotalCostUSD:   r.TotalCostUSD,
		Stages:         make(map[model.StageName]StageView, len(r.Stages)),
		Timeline:       r.Timeline,
	}

	for _, s := range r.Stages {
		v := StageView{
			Status:    s.Status,
			LatencyMs: s.LatencyMs,
			CostUSD:   s.CostUSD,
			Output:    s.Output,
			Error:     s.Error,
		}
		switch s.Stage {
		case model.StageDeduplication:
			if c, ok := s.Output["confidence"].(float64); ok {
				v.Confidence = &c
			}
		case model.StageCRM:
			v.LeadID, _ = s.Output["lead_id"].(string)
		}
		resp.Stages[s.Stage] = v
	}

	resp.Error = errorDetail(r)
	return resp
}

// ValidationResponse renders a pre-flight rejection.
func ValidationResponse(err *ValidationError) Response {
	return Response{
		Stages:   map[model.StageName]StageView{},
		Timeline: []model.TimelineSegment{},
		Error: &ErrorDetail{
			Class:   model.ErrorClassValidation,
			Message: err.Error(),
			Fields:  err.Fields,
		},
	}
}

func errorDetail(r *model.PipelineResult) *ErrorDetail {
	switch r.FinalStatus {
	case model.FinalStatusCompleted, "":
		return nil

	case model.FinalStatusRejected:
		q, _ := r.Stage(model.StageQualification)
		score, _ := q.Output["score"].(float64)
		minScore, _ := q.Output["min_score"].(float64)
		return &ErrorDetail{
			Stage:   model.StageQualification,
			Class:   model.ErrorClassBusiness,
			Message: fmt.Sprintf("qualification score %.1f is below minimum %.1f", score, minScore),
		}

	case model.FinalStatusCancelled:
		d := &ErrorDetail{Class: model.ErrorClassBlocking, Message: "run cancelled", Hint: model.HintRetry}
		if n := len(r.Stages); n > 0 {
			d.Stage = r.Stages[n-1].Stage
		}
		return d
	}

	if s, ok := r.FailedStage(); ok && s.Error != nil {
		return &ErrorDetail{
			Stage:   s.Stage,
			Class:   s.Error.Class,
			Message: s.Error.Message,
			Hint:    s.Error.Hint,
		}
	}
	return &ErrorDetail{Class: model.ErrorClassBlocking, Message: string(r.FinalStatus)}
}
