package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/store"
)

// Snapshot is a point-in-time view of pipeline health over a lookback window.
type Snapshot struct {
	Runs            int     `json:"runs"`
	Completed       int     `json:"completed"`
	Rejected        int     `json:"rejected"`
	DuplicateHalted int     `json:"duplicate_halted"`
	CRMFailed       int     `json:"crm_failed"`
	Cancelled       int     `json:"cancelled"`
	CRMFailureRate  float64 `json:"crm_failure_rate"`
	CostUSD         float64 `json:"cost_usd"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`

	// OpenBreakers lists providers whose circuit is not closed.
	OpenBreakers []string `json:"open_breakers,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StatsReader is the slice of store.Store the collector needs.
type StatsReader interface {
	Stats(ctx context.Context, f store.Filter) (*store.Stats, error)
}

// Collector builds snapshots from recorded runs and live breaker state.
type Collector struct {
	stats    StatsReader
	breakers func() map[string]string
	now      func() time.Time
}

// NewCollector creates a collector. breakers may be nil.
func NewCollector(stats StatsReader, breakers func() map[string]string) *Collector {
	return &Collector{stats: stats, breakers: breakers, now: time.Now}
}

// Collect gathers a snapshot over the last lookbackHours.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	st, err := c.stats.Stats(ctx, store.Filter{
		Since: now.Add(-time.Duration(lookbackHours) * time.Hour),
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: read stats")
	}

	snap.Runs = st.Count
	snap.Completed = st.ByStatus[string(model.FinalStatusCompleted)]
	snap.Rejected = st.ByStatus[string(model.FinalStatusRejected)]
	snap.DuplicateHalted = st.ByStatus[string(model.FinalStatusDuplicateHalted)]
	snap.CRMFailed = st.ByStatus[string(model.FinalStatusCRMFailed)]
	snap.Cancelled = st.ByStatus[string(model.FinalStatusCancelled)]
	snap.CostUSD = st.TotalCostUSD
	snap.AvgLatencyMs = st.AvgLatencyMs

	// Rejections and duplicates are business outcomes; only runs that
	// reached the CRM count toward the failure rate.
	if attempted := snap.Completed + snap.CRMFailed; attempted > 0 {
		snap.CRMFailureRate = float64(snap.CRMFailed) / float64(attempted)
	}

	if c.breakers != nil {
		for name, state := range c.breakers() {
			if state != "closed" {
				snap.OpenBreakers = append(snap.OpenBreakers, name)
			}
		}
		sort.Strings(snap.OpenBreakers)
	}
	return snap, nil
}
