// Package cost computes per-stage provider spend for pipeline runs.
package cost

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Rates holds per-provider pricing configuration.
type Rates struct {
	// Anthropic is keyed by model ID or by a model ID prefix such as
	// "claude-haiku-4-5". The longest matching key wins.
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityRate       `yaml:"perplexity" mapstructure:"perplexity"`
	Salesforce SalesforceRate       `yaml:"salesforce" mapstructure:"salesforce"`
}

// ModelRate is USD per million tokens. Cache multipliers scale the input rate.
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// PerplexityRate is a flat per-query fee plus token usage.
type PerplexityRate struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
	PerMTok  float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// SalesforceRate holds the amortized cost of a single Salesforce API call.
// Most orgs pay per license rather than per call, so the default is zero.
type SalesforceRate struct {
	PerCall float64 `yaml:"per_call" mapstructure:"per_call"`
}

// Validate rejects negative prices.
func (r Rates) Validate() error {
	var bad []string
	for model, m := range r.Anthropic {
		if m.Input < 0 || m.Output < 0 || m.CacheWriteMul < 0 || m.CacheReadMul < 0 {
			bad = append(bad, "anthropic."+model)
		}
	}
	if r.Perplexity.PerQuery < 0 || r.Perplexity.PerMTok < 0 {
		bad = append(bad, "perplexity")
	}
	if r.Salesforce.PerCall < 0 {
		bad = append(bad, "salesforce")
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return eris.Errorf("pricing: negative rates for %s", strings.Join(bad, ", "))
	}
	return nil
}

// Tokens is the token usage of one model call.
type Tokens struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
	// model prefixes, longest first
	prefixes []string
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	c := &Calculator{rates: rates}
	for k := range rates.Anthropic {
		c.prefixes = append(c.prefixes, k)
	}
	sort.Slice(c.prefixes, func(i, j int) bool {
		if len(c.prefixes[i]) != len(c.prefixes[j]) {
			return len(c.prefixes[i]) > len(c.prefixes[j])
		}
		return c.prefixes[i] < c.prefixes[j]
	})
	return c
}

// ModelRate resolves the rate for model by exact ID, then by longest prefix.
func (c *Calculator) ModelRate(model string) (ModelRate, bool) {
	if r, ok := c.rates.Anthropic[model]; ok {
		return r, true
	}
	for _, p := range c.prefixes {
		if strings.HasPrefix(model, p) {
			return c.rates.Anthropic[p], true
		}
	}
	return ModelRate{}, false
}

// Claude returns the cost of one Claude call. Unpriced models cost zero.
func (c *Calculator) Claude(model string, t Tokens) float64 {
	rate, ok := c.ModelRate(model)
	if !ok {
		return 0
	}
	perTok := func(n int64, usd float64) float64 { return float64(n) / 1e6 * usd }
	return perTok(t.Input, rate.Input) +
		perTok(t.Output, rate.Output) +
		perTok(t.CacheWrite, rate.Input*rate.CacheWriteMul) +
		perTok(t.CacheRead, rate.Input*rate.CacheReadMul)
}

// Perplexity returns the cost of one Perplexity query including token usage.
func (c *Calculator) Perplexity(promptTokens, completionTokens int) float64 {
	tokens := float64(promptTokens + completionTokens)
	return c.rates.Perplexity.PerQuery + (tokens/1e6)*c.rates.Perplexity.PerMTok
}

// SalesforceCalls returns the cost of n Salesforce API calls.
func (c *Calculator) SalesforceCalls(n int) float64 {
	return float64(n) * c.rates.Salesforce.PerCall
}

// DefaultRates returns list prices for the models the pipeline ships with.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5": {
				Input: 1.00, Output: 5.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		Perplexity: PerplexityRate{PerQuery: 0.005, PerMTok: 1.00},
	}
}
