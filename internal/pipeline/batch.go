package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// BatchItem is the outcome of one lead in a batch.
type BatchItem struct {
	Index   int                   `json:"index"`
	Lead    string                `json:"lead"`
	Started bool                  `json:"started"`
	Result  *model.PipelineResult `json:"result,omitempty"`
	Err     error                 `json:"-"`
}

// BatchSummary aggregates a batch run.
type BatchSummary struct {
	Total      int                       `json:"total"`
	ByStatus   map[model.FinalStatus]int `json:"by_status"`
	Invalid    int                       `json:"invalid"`
	NotStarted int                       `json:"not_started"`
	CostUSD    float64                   `json:"cost_usd"`
	Items      []BatchItem               `json:"items"`
}

// RunBatch runs leads with at most concurrency runs in flight. Cancelling ctx
// stops new runs from starting and cancels the ones in flight; those still
// finish, are recorded as cancelled, and appear in the summary. Leads that
// never started are counted as NotStarted.
func (o *Orchestrator) RunBatch(ctx context.Context, leads []model.LeadInput, opts model.PipelineOptions, concurrency int) BatchSummary {
	if concurrency <= 0 {
		concurrency = 1
	}
	items := make([]BatchItem, len(leads))
	for i, l := range leads {
		items[i] = BatchItem{Index: i, Lead: l.Name}
	}

	var g errgroup.Group
	g.SetLimit(concurrency)

	for i := range leads {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			items[i].Started = true
			res, err := o.Run(ctx, leads[i], opts)
			items[i].Result = res
			items[i].Err = err
			return nil
		})
	}
	_ = g.Wait()

	sum := BatchSummary{
		Total:    len(leads),
		ByStatus: make(map[model.FinalStatus]int),
		Items:    items,
	}
	for _, it := range items {
		var verr *ValidationError
		switch {
		case !it.Started:
			sum.NotStarted++
		case errors.As(it.Err, &verr):
			sum.Invalid++
		case it.Result != nil:
			sum.ByStatus[it.Result.FinalStatus]++
			sum.CostUSD += it.Result.TotalCostUSD
		}
	}

	zap.L().Info("pipeline: batch complete",
		zap.Int("total", sum.Total),
		zap.Int("completed", sum.ByStatus[model.FinalStatusCompleted]),
		zap.Int("invalid", sum.Invalid),
		zap.Int("not_started", sum.NotStarted),
		zap.Float64("cost_usd", sum.CostUSD),
	)
	return sum
}
