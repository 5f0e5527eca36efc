package provider

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/resilience"
)

// Limits bounds how hard the pipeline may drive one external provider.
type Limits struct {
	// MaxInFlight caps concurrent calls. Zero means unlimited.
	MaxInFlight int `mapstructure:"max_in_flight"`
	// RatePerSec caps sustained call rate. Zero means unlimited.
	RatePerSec float64 `mapstructure:"rate_per_sec"`
	// Burst is the limiter bucket size. Defaults to 1 when a rate is set.
	Burst int `mapstructure:"burst"`
	// BreakerFailures opens the circuit after this many consecutive failures.
	BreakerFailures int `mapstructure:"breaker_failures"`
	// BreakerResetSecs is how long the circuit stays open.
	BreakerResetSecs int `mapstructure:"breaker_reset_secs"`
}

// Guard enforces a provider's in-flight cap, rate limit, and circuit
// breaker. One Guard is shared by every run that calls the provider.
type Guard struct {
	name    string
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewGuard creates a guard for the named provider.
func NewGuard(name string, l Limits) *Guard {
	g := &Guard{name: name}
	if l.MaxInFlight > 0 {
		g.sem = semaphore.NewWeighted(int64(l.MaxInFlight))
	}
	if l.RatePerSec > 0 {
		burst := l.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(l.RatePerSec), burst)
	}

	cbCfg := resilience.NewCircuitBreakerConfig(l.BreakerFailures, l.BreakerResetSecs)
	cbCfg.Name = name
	cbCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("provider: circuit breaker state change",
			zap.String("provider", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	g.breaker = resilience.NewCircuitBreaker(cbCfg)
	return g
}

// Name returns the provider name.
func (g *Guard) Name() string { return g.name }

// State returns the breaker state.
func (g *Guard) State() resilience.CircuitState { return g.breaker.State() }

// Do runs fn once admission is granted. Waiting for a slot or a token honors
// ctx, so a stage timeout also bounds time spent queued.
func Do[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return zero, eris.Wrapf(err, "provider: %s: wait for slot", g.name)
		}
		defer g.sem.Release(1)
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return zero, eris.Wrapf(err, "provider: %s: rate limit", g.name)
		}
	}
	return resilience.ExecuteVal(ctx, g.breaker, fn)
}

type guardedQualification struct {
	next  QualificationProvider
	guard *Guard
}

// GuardQualification wraps p with g.
func GuardQualification(p QualificationProvider, g *Guard) QualificationProvider {
	return &guardedQualification{next: p, guard: g}
}

func (q *guardedQualification) Execute(ctx context.Context, lead model.LeadInput) (QualificationOutput, error) {
	return Do(ctx, q.guard, func(ctx context.Context) (QualificationOutput, error) {
		return q.next.Execute(ctx, lead)
	})
}

type guardedEnrichment struct {
	next  EnrichmentProvider
	guard *Guard
}

// GuardEnrichment wraps p with g.
func GuardEnrichment(p EnrichmentProvider, g *Guard) EnrichmentProvider {
	return &guardedEnrichment{next: p, guard: g}
}

func (e *guardedEnrichment) Execute(ctx context.Context, lead model.LeadInput) (EnrichmentOutput, error) {
	return Do(ctx, e.guard, func(ctx context.Context) (EnrichmentOutput, error) {
		return e.next.Execute(ctx, lead)
	})
}

type guardedCRM struct {
	next  CRMProvider
	guard *Guard
}

// GuardCRM wraps p with g.
func GuardCRM(p CRMProvider, g *Guard) CRMProvider {
	return &guardedCRM{next: p, guard: g}
}

func (c *guardedCRM) Execute(ctx context.Context, req CRMRequest) (CRMOutput, error) {
	return Do(ctx, c.guard, func(ctx context.Context) (CRMOutput, error) {
		return c.next.Execute(ctx, req)
	})
}

// Guards holds one guard per provider, keyed by provider name.
type Guards map[string]*Guard

// NewGuards builds guards for the three pipeline providers.
func NewGuards(limits map[string]Limits) Guards {
	gs := make(Guards, 3)
	for _, name := range []string{NameQualification, NameEnrichment, NameCRM} {
		gs[name] = NewGuard(name, limits[name])
	}
	return gs
}

// Wrap returns a copy of s with every provider behind its guard.
func (gs Guards) Wrap(s Set) Set {
	out := s
	if g := gs[NameQualification]; g != nil && s.Qualification != nil {
		out.Qualification = GuardQualification(s.Qualification, g)
	}
	if g := gs[NameEnrichment]; g != nil && s.Enrichment != nil {
		out.Enrichment = GuardEnrichment(s.Enrichment, g)
	}
	if g := gs[NameCRM]; g != nil && s.CRM != nil {
		out.CRM = GuardCRM(s.CRM, g)
	}
	return out
}

// States reports each guard's breaker state.
func (gs Guards) States() map[string]string {
	out := make(map[string]string, len(gs))
	for name, g := range gs {
		out[name] = g.State().String()
	}
	return out
}
