package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sells-group/lead-pipeline/internal/dedup"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/provider"
	"github.com/sells-group/lead-pipeline/internal/store"
)

// stepClock advances by step on every call. Safe for concurrent use.
func stepClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := t
		t = t.Add(step)
		return now
	}
}

type fakeRecorder struct {
	mu      sync.Mutex
	results []*model.PipelineResult
	err     error
}

func (r *fakeRecorder) Append(_ context.Context, res *model.PipelineResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return r.err
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

// fakeProviders counts calls and lets each test override behavior.
type fakeProviders struct {
	qualCalls, enrichCalls, crmCalls atomic.Int32

	qualify func(ctx context.Context, lead model.LeadInput) (provider.QualificationOutput, error)
	enrich  func(ctx context.Context, lead model.LeadInput) (provider.EnrichmentOutput, error)
	create  func(ctx context.Context, req provider.CRMRequest) (provider.CRMOutput, error)
}

func newFakeProviders() *fakeProviders {
	return &fakeProviders{
		qualify: func(_ context.Context, _ model.LeadInput) (provider.QualificationOutput, error) {
			return provider.QualificationOutput{Score: 80, CostUSD: 0.002}, nil
		},
		enrich: func(_ context.Context, _ model.LeadInput) (provider.EnrichmentOutput, error) {
			return provider.EnrichmentOutput{Fields: map[string]string{"website": "acme.com"}, CostUSD: 0.005}, nil
		},
		create: func(_ context.Context, _ provider.CRMRequest) (provider.CRMOutput, error) {
			return provider.CRMOutput{RecordID: "00Q000000000001"}, nil
		},
	}
}

func (f *fakeProviders) set() provider.Set {
	return provider.Set{
		Qualification: provider.QualificationFunc(func(ctx context.Context, l model.LeadInput) (provider.QualificationOutput, error) {
			f.qualCalls.Add(1)
			return f.qualify(ctx, l)
		}),
		Enrichment: provider.EnrichmentFunc(func(ctx context.Context, l model.LeadInput) (provider.EnrichmentOutput, error) {
			f.enrichCalls.Add(1)
			return f.enrich(ctx, l)
		}),
		CRM: provider.CRMFunc(func(ctx context.Context, r provider.CRMRequest) (provider.CRMOutput, error) {
			f.crmCalls.Add(1)
			return f.create(ctx, r)
		}),
	}
}

var corpusCreated = time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC)

func testCorpus() []dedup.Record {
	return []dedup.Record{
		{ID: "003EXISTING", Email: "jane@acme.com", Phone: "+1 (555) 010-0100", Company: "Acme Widgets LLC", CreatedAt: corpusCreated},
		{ID: "003OTHER", Email: "bob@globex.com", Phone: "555-777-8888", Company: "Globex Corporation", CreatedAt: corpusCreated},
	}
}

func newTestOrchestrator(t *testing.T, fp *fakeProviders, rec *fakeRecorder, opts ...Option) *Orchestrator {
	t.Helper()
	engine := dedup.NewEngine(dedup.DefaultConfig())
	holder := dedup.NewHolder(engine.BuildIndex(testCorpus()))

	var id atomic.Int32
	all := append([]Option{
		WithClock(stepClock(10 * time.Millisecond)),
		WithIDFunc(func() string { return fmt.Sprintf("run-%d", id.Add(1)) }),
	}, opts...)

	var recorder store.Recorder
	if rec != nil {
		recorder = rec
	}
	return New(DefaultConfig(), fp.set(), engine, holder, recorder, all...)
}

func score(v float64) *float64 { return &v }

func newLead() model.LeadInput {
	return model.LeadInput{
		Name:    "Maria Lopez",
		Email:   "maria@initech.com",
		Company: "Initech",
	}
}

func allOptions() model.PipelineOptions {
	return model.PipelineOptions{StopOnDuplicate: true, CreateInCRM: true}
}
