// Package config loads lead-pipeline settings from config.yaml and
// LEADPIPE_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/lead-pipeline/internal/cost"
	"github.com/sells-group/lead-pipeline/internal/dedup"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/pipeline"
	"github.com/sells-group/lead-pipeline/internal/provider"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      store.Config               `yaml:"store" mapstructure:"store"`
	Notion     NotionConfig               `yaml:"notion" mapstructure:"notion"`
	Perplexity PerplexityConfig           `yaml:"perplexity" mapstructure:"perplexity"`
	Anthropic  AnthropicConfig            `yaml:"anthropic" mapstructure:"anthropic"`
	Salesforce SalesforceConfig           `yaml:"salesforce" mapstructure:"salesforce"`
	Pricing    cost.Rates                 `yaml:"pricing" mapstructure:"pricing"`
	Pipeline   PipelineConfig             `yaml:"pipeline" mapstructure:"pipeline"`
	Providers  map[string]provider.Limits `yaml:"providers" mapstructure:"providers"`
	Dedup      DedupConfig                `yaml:"dedup" mapstructure:"dedup"`
	Batch      BatchConfig                `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig               `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig           `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig                  `yaml:"log" mapstructure:"log"`
}

// NotionConfig holds Notion API credentials and the lead database.
type NotionConfig struct {
	Token string `yaml:"token" mapstructure:"token"`
	// LeadDB is the database read by --notion-db when no ID is given.
	LeadDB string `yaml:"lead_db" mapstructure:"lead_db"`
	// LeadStatus restricts reads to pages with this Status.
	LeadStatus string  `yaml:"lead_status" mapstructure:"lead_status"`
	RateLimit  float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SalesforceConfig holds Salesforce JWT auth and call settings.
type SalesforceConfig struct {
	ClientID  string  `yaml:"client_id" mapstructure:"client_id"`
	Username  string  `yaml:"username" mapstructure:"username"`
	KeyPath   string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL  string  `yaml:"login_url" mapstructure:"login_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	// CorpusLookbackDays limits the dedup corpus to records created in
	// this window. Zero loads every contact and lead.
	CorpusLookbackDays int `yaml:"corpus_lookback_days" mapstructure:"corpus_lookback_days"`
	RetryAttempts      int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryInitialMs     int `yaml:"retry_initial_ms" mapstructure:"retry_initial_ms"`
	RetryMaxMs         int `yaml:"retry_max_ms" mapstructure:"retry_max_ms"`
}

// Retry returns the retry policy for CRM writes.
func (s SalesforceConfig) Retry() resilience.RetryConfig {
	return resilience.NewRetryConfig(s.RetryAttempts, s.RetryInitialMs, s.RetryMaxMs)
}

// CorpusSince returns the lower bound on corpus record creation, or the
// zero time when no lookback is configured.
func (s SalesforceConfig) CorpusSince(now time.Time) time.Time {
	if s.CorpusLookbackDays <= 0 {
		return time.Time{}
	}
	return now.AddDate(0, 0, -s.CorpusLookbackDays)
}

// MonitoringConfig configures alerting over recorded runs.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	LatencyThresholdMs   int     `yaml:"latency_threshold_ms" mapstructure:"latency_threshold_ms"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// PipelineConfig configures stage thresholds, timeouts, and default options.
type PipelineConfig struct {
	MinQualificationScore float64       `yaml:"min_qualification_score" mapstructure:"min_qualification_score"`
	FallbackScore         float64       `yaml:"fallback_score" mapstructure:"fallback_score"`
	Timeouts              TimeoutConfig `yaml:"timeouts" mapstructure:"timeouts"`
	Defaults              OptionsConfig `yaml:"defaults" mapstructure:"defaults"`
}

// TimeoutConfig holds per-stage and per-run budgets in milliseconds.
// Zero disables a budget.
type TimeoutConfig struct {
	QualificationMs int `yaml:"qualification_ms" mapstructure:"qualification_ms"`
	EnrichmentMs    int `yaml:"enrichment_ms" mapstructure:"enrichment_ms"`
	DeduplicationMs int `yaml:"deduplication_ms" mapstructure:"deduplication_ms"`
	CRMMs           int `yaml:"crm_ms" mapstructure:"crm_ms"`
	TotalMs         int `yaml:"total_ms" mapstructure:"total_ms"`
}

// OptionsConfig are the run options applied when a caller supplies none.
type OptionsConfig struct {
	StopOnDuplicate bool `yaml:"stop_on_duplicate" mapstructure:"stop_on_duplicate"`
	SkipEnrichment  bool `yaml:"skip_enrichment" mapstructure:"skip_enrichment"`
	CreateInCRM     bool `yaml:"create_in_crm" mapstructure:"create_in_crm"`
	DryRun          bool `yaml:"dry_run" mapstructure:"dry_run"`
}

// Options converts to run options.
func (o OptionsConfig) Options() model.PipelineOptions {
	return model.PipelineOptions{
		StopOnDuplicate: o.StopOnDuplicate,
		SkipEnrichment:  o.SkipEnrichment,
		CreateInCRM:     o.CreateInCRM,
		DryRun:          o.DryRun,
	}
}

// Orchestrator converts to the orchestrator configuration.
func (p PipelineConfig) Orchestrator() pipeline.Config {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return pipeline.Config{
		MinQualificationScore: p.MinQualificationScore,
		FallbackScore:         p.FallbackScore,
		Timeouts: pipeline.Timeouts{
			Qualification: ms(p.Timeouts.QualificationMs),
			Enrichment:    ms(p.Timeouts.EnrichmentMs),
			Deduplication: ms(p.Timeouts.DeduplicationMs),
			CRM:           ms(p.Timeouts.CRMMs),
			Total:         ms(p.Timeouts.TotalMs),
		},
	}
}

// DedupConfig tunes matching and says where the corpus comes from.
type DedupConfig struct {
	dedup.Config `yaml:",inline" mapstructure:",squash"`

	// ConfigPath points at a YAML file with a top-level dedup block that
	// replaces the inline settings.
	ConfigPath string `yaml:"config_path" mapstructure:"config_path"`
	// CorpusFile loads the corpus from a JSON export instead of Salesforce.
	CorpusFile          string `yaml:"corpus_file" mapstructure:"corpus_file"`
	RefreshIntervalSecs int    `yaml:"refresh_interval_secs" mapstructure:"refresh_interval_secs"`
}

// Engine returns the effective matcher configuration.
func (d DedupConfig) Engine() (dedup.Config, error) {
	if d.ConfigPath != "" {
		return dedup.LoadConfig(d.ConfigPath)
	}
	return d.Config, d.Config.Validate()
}

// RefreshInterval returns the corpus refresh period.
func (d DedupConfig) RefreshInterval() time.Duration {
	return time.Duration(d.RefreshIntervalSecs) * time.Second
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentLeads int `yaml:"max_concurrent_leads" mapstructure:"max_concurrent_leads"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins      []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", store.DefaultSQLitePath)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_secs", 10)
	v.SetDefault("batch.max_concurrent_leads", 5)

	pc := pipeline.DefaultConfig()
	v.SetDefault("pipeline.min_qualification_score", pc.MinQualificationScore)
	v.SetDefault("pipeline.fallback_score", pc.FallbackScore)
	v.SetDefault("pipeline.timeouts.qualification_ms", pc.Timeouts.Qualification.Milliseconds())
	v.SetDefault("pipeline.timeouts.enrichment_ms", pc.Timeouts.Enrichment.Milliseconds())
	v.SetDefault("pipeline.timeouts.deduplication_ms", pc.Timeouts.Deduplication.Milliseconds())
	v.SetDefault("pipeline.timeouts.crm_ms", pc.Timeouts.CRM.Milliseconds())
	v.SetDefault("pipeline.timeouts.total_ms", pc.Timeouts.Total.Milliseconds())
	v.SetDefault("pipeline.defaults.create_in_crm", true)

	v.SetDefault("providers.qualification.max_in_flight", 8)
	v.SetDefault("providers.qualification.rate_per_sec", 10)
	v.SetDefault("providers.qualification.burst", 5)
	v.SetDefault("providers.enrichment.max_in_flight", 4)
	v.SetDefault("providers.enrichment.rate_per_sec", 5)
	v.SetDefault("providers.enrichment.burst", 2)
	v.SetDefault("providers.crm.max_in_flight", 4)
	v.SetDefault("providers.crm.rate_per_sec", 10)
	v.SetDefault("providers.crm.breaker_failures", 5)
	v.SetDefault("providers.crm.breaker_reset_secs", 30)

	dc := dedup.DefaultConfig()
	v.SetDefault("dedup.threshold", dc.Threshold)
	v.SetDefault("dedup.weights.email", dc.Weights.Email)
	v.SetDefault("dedup.weights.phone", dc.Weights.Phone)
	v.SetDefault("dedup.weights.company", dc.Weights.Company)
	v.SetDefault("dedup.legal_suffixes", dc.LegalSuffixes)
	v.SetDefault("dedup.plus_tag_domains", dc.PlusTagDomains)
	v.SetDefault("dedup.min_phone_digits", dc.MinPhoneDigits)
	v.SetDefault("dedup.company_similarity", dc.CompanySimilarity)
	v.SetDefault("dedup.full_scan_limit", dc.FullScanLimit)
	v.SetDefault("dedup.refresh_interval_secs", 900)

	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 512)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.rate_limit", 25)
	v.SetDefault("salesforce.retry_attempts", 3)
	v.SetDefault("salesforce.retry_initial_ms", 100)
	v.SetDefault("salesforce.retry_max_ms", 1000)
	v.SetDefault("notion.rate_limit", 3)

	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.cost_threshold_usd", 50.0)
	v.SetDefault("monitoring.latency_threshold_ms", pc.Timeouts.Total.Milliseconds())
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)

	rates := cost.DefaultRates()
	for model, r := range rates.Anthropic {
		key := "pricing.anthropic." + model
		v.SetDefault(key+".input", r.Input)
		v.SetDefault(key+".output", r.Output)
		v.SetDefault(key+".cache_write_mul", r.CacheWriteMul)
		v.SetDefault(key+".cache_read_mul", r.CacheReadMul)
	}
	v.SetDefault("pricing.perplexity.per_query", rates.Perplexity.PerQuery)
	v.SetDefault("pricing.perplexity.per_mtok", rates.Perplexity.PerMTok)
	v.SetDefault("pricing.salesforce.per_call", rates.Salesforce.PerCall)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
