package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/provider"
)

// Validation modes, one per family of commands.
const (
	ModeRun     = "run"     // pipeline runs against live providers
	ModeOffline = "offline" // pipeline runs against stub providers
	ModeServe   = "serve"   // HTTP API, live providers
	ModeHistory = "history" // execution history reads only
	ModeCorpus  = "corpus"  // corpus refresh and checks
)

// Validate checks the settings a command mode depends on and reports every
// problem at once.
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch mode {
	case ModeRun, ModeServe:
		c.requireProviders(add)
		c.checkPipeline(add)
	case ModeOffline:
		c.checkPipeline(add)
	case ModeHistory:
	case ModeCorpus:
		c.requireCorpus(add)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}
	if mode == ModeServe {
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		c.checkMonitoring(add)
	}
	c.checkStore(add)

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// requireProviders checks live provider credentials. Anthropic is optional:
// without a key, leads are qualified from their ICP score.
func (c *Config) requireProviders(add func(string, ...any)) {
	if c.Perplexity.Key == "" {
		add("perplexity.key is required")
	}
	c.requireSalesforce(add)
}

func (c *Config) requireSalesforce(add func(string, ...any)) {
	if c.Salesforce.ClientID == "" {
		add("salesforce.client_id is required")
	}
	if c.Salesforce.Username == "" {
		add("salesforce.username is required")
	}
	if c.Salesforce.KeyPath == "" {
		add("salesforce.key_path is required")
	}
}

// requireCorpus needs Salesforce credentials unless the corpus is a file.
func (c *Config) requireCorpus(add func(string, ...any)) {
	if c.Dedup.CorpusFile != "" {
		return
	}
	c.requireSalesforce(add)
}

func (c *Config) checkPipeline(add func(string, ...any)) {
	p := c.Pipeline
	if p.MinQualificationScore < 0 || p.MinQualificationScore > 100 {
		add("pipeline.min_qualification_score must be between 0 and 100")
	}
	if p.FallbackScore < 0 || p.FallbackScore > 100 {
		add("pipeline.fallback_score must be between 0 and 100")
	}
	t := p.Timeouts
	if t.QualificationMs < 0 || t.EnrichmentMs < 0 || t.DeduplicationMs < 0 || t.CRMMs < 0 || t.TotalMs < 0 {
		add("pipeline.timeouts values must be >= 0")
	}
	if c.Batch.MaxConcurrentLeads < 1 || c.Batch.MaxConcurrentLeads > 50 {
		add("batch.max_concurrent_leads must be between 1 and 50")
	}
	for name, l := range c.Providers {
		switch name {
		case provider.NameQualification, provider.NameEnrichment, provider.NameCRM:
		default:
			add("providers.%s is not a known provider", name)
			continue
		}
		if l.MaxInFlight < 0 || l.RatePerSec < 0 || l.Burst < 0 || l.BreakerFailures < 0 || l.BreakerResetSecs < 0 {
			add("providers.%s values must be >= 0", name)
		}
	}
	if err := c.Pricing.Validate(); err != nil {
		add("%s", err.Error())
	}
	if c.Dedup.ConfigPath == "" {
		if err := c.Dedup.Config.Validate(); err != nil {
			add("%s", err.Error())
		}
	}
}

func (c *Config) checkMonitoring(add func(string, ...any)) {
	m := c.Monitoring
	if m.FailureRateThreshold < 0 || m.FailureRateThreshold > 1 {
		add("monitoring.failure_rate_threshold must be between 0 and 1")
	}
	if m.CostThresholdUSD < 0 || m.LatencyThresholdMs < 0 {
		add("monitoring thresholds must be >= 0")
	}
	if m.WebhookURL != "" && m.LookbackWindowHours <= 0 {
		add("monitoring.lookback_window_hours must be > 0 when a webhook is set")
	}
}

func (c *Config) checkStore(add func(string, ...any)) {
	switch c.Store.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres driver")
		}
	default:
		add("store.driver %q is not supported", c.Store.Driver)
	}
}
