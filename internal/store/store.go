// Package store persists finished pipeline runs as an append-only
// execution history.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// ErrNotFound is returned when an execution does not exist.
var ErrNotFound = eris.New("store: execution not found")

// ErrUnfinished is returned when Append is given a result with no final status.
var ErrUnfinished = eris.New("store: result has no final status")

// Recorder appends finished pipeline results to history.
type Recorder interface {
	Append(ctx context.Context, result *model.PipelineResult) error
}

// Store is the queryable execution history.
type Store interface {
	Recorder

	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutions(ctx context.Context, f Filter) ([]Execution, error)
	Stats(ctx context.Context, f Filter) (*Stats, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Execution is one recorded pipeline run.
type Execution struct {
	ID             string                `json:"id"`
	LeadName       string                `json:"lead_name"`
	FinalStatus    model.FinalStatus     `json:"final_status"`
	Success        bool                  `json:"success"`
	TotalLatencyMs int64                 `json:"total_latency_ms"`
	TotalCostUSD   float64               `json:"total_cost_usd"`
	CreatedAt      time.Time             `json:"created_at"`
	Result         *model.PipelineResult `json:"result,omitempty"`
}

// Filter narrows history queries. Zero values match everything.
type Filter struct {
	Success     *bool             `json:"success,omitempty"`
	FinalStatus model.FinalStatus `json:"final_status,omitempty"`
	LeadName    string            `json:"lead_name,omitempty"`
	Since       time.Time         `json:"since,omitempty"`
	Until       time.Time         `json:"until,omitempty"`
	Limit       int               `json:"limit,omitempty"`
	Offset      int               `json:"offset,omitempty"`
}

// Stats aggregates cost and latency over a filtered set of executions.
type Stats struct {
	Count        int            `json:"count"`
	Succeeded    int            `json:"succeeded"`
	AvgLatencyMs float64        `json:"avg_latency_ms"`
	TotalCostUSD float64        `json:"total_cost_usd"`
	ByStatus     map[string]int `json:"by_status"`
}

const defaultListLimit = 100

// Config selects and configures a backend.
type Config struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Path        string     `yaml:"path" mapstructure:"path"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open creates and migrates the configured store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		st, err = NewSQLite(cfg.Path)
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, &cfg.Pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func newExecution(result *model.PipelineResult) (Execution, error) {
	if result == nil || !result.Finished() {
		return Execution{}, ErrUnfinished
	}
	if result.RunID == "" {
		return Execution{}, eris.New("store: result has no run id")
	}
	return Execution{
		ID:             result.RunID,
		LeadName:       result.Lead.Name,
		FinalStatus:    result.FinalStatus,
		Success:        result.Succeeded(),
		TotalLatencyMs: result.TotalLatencyMs,
		TotalCostUSD:   result.TotalCostUSD,
		CreatedAt:      result.StartedAt.UTC(),
		Result:         result,
	}, nil
}

// whereClause renders f as a SQL WHERE clause. ph returns the placeholder
// for the nth argument and ts converts times to the backend's column type.
func whereClause(f Filter, ph func(n int) string, ts func(time.Time) any) (string, []any) {
	var conds []string
	var args []any
	add := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(expr, ph(len(args))))
	}

	if f.Success != nil {
		add("success = %s", *f.Success)
	}
	if f.FinalStatus != "" {
		add("final_status = %s", string(f.FinalStatus))
	}
	if f.LeadName != "" {
		add("lead_name = %s", f.LeadName)
	}
	if !f.Since.IsZero() {
		add("created_at >= %s", ts(f.Since.UTC()))
	}
	if !f.Until.IsZero() {
		add("created_at < %s", ts(f.Until.UTC()))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func pageClause(f Filter, ph func(n int) string, args []any) (string, []any) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	clause := " LIMIT " + ph(len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		clause += " OFFSET " + ph(len(args))
	}
	return clause, args
}

type statusAgg struct {
	status    string
	count     int
	latencyMs int64
	costUSD   float64
}

func buildStats(rows []statusAgg) *Stats {
	st := &Stats{ByStatus: make(map[string]int, len(rows))}
	var latency int64
	for _, r := range rows {
		st.Count += r.count
		st.ByStatus[r.status] = r.count
		latency += r.latencyMs
		st.TotalCostUSD += r.costUSD
		if r.status == string(model.FinalStatusCompleted) {
			st.Succeeded += r.count
		}
	}
	if st.Count > 0 {
		st.AvgLatencyMs = float64(latency) / float64(st.Count)
	}
	return st
}
