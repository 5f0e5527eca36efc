// Package claude scores leads against the ideal customer profile using the
// Anthropic Messages API.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/cost"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/provider"
	"github.com/sells-group/lead-pipeline/pkg/anthropic"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-haiku-4-5-20251001"

const defaultMaxTokens = 512

const systemPrompt = `You qualify inbound B2B sales leads against an ideal customer profile.
Reply with a single JSON object: {"score": <0-100>, "reasons": ["..."]}.
Score 0 for clearly unqualified leads and 100 for a perfect fit.`

// Option configures a Qualifier.
type Option func(*Qualifier)

// WithModel overrides the Claude model.
func WithModel(m string) Option {
	return func(q *Qualifier) {
		if m != "" {
			q.model = m
		}
	}
}

// WithMaxTokens overrides the response token cap.
func WithMaxTokens(n int64) Option {
	return func(q *Qualifier) {
		if n > 0 {
			q.maxTokens = n
		}
	}
}

// Qualifier implements provider.QualificationProvider with Claude.
type Qualifier struct {
	client    anthropic.Client
	calc      *cost.Calculator
	model     string
	maxTokens int64
}

// NewQualifier creates a Claude-backed qualification provider.
func NewQualifier(client anthropic.Client, calc *cost.Calculator, opts ...Option) *Qualifier {
	q := &Qualifier{
		client:    client,
		calc:      calc,
		model:     DefaultModel,
		maxTokens: defaultMaxTokens,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

type scoreReply struct {
	Score   *float64 `json:"score"`
	Reasons []string `json:"reasons"`
}

// Execute asks Claude for a qualification score. Token cost is reported even
// when the reply cannot be parsed.
func (q *Qualifier) Execute(ctx context.Context, lead model.LeadInput) (provider.QualificationOutput, error) {
	out := provider.QualificationOutput{Model: q.model}

	resp, err := q.client.Complete(ctx, anthropic.Prompt{
		Model:       q.model,
		MaxTokens:   q.maxTokens,
		System:      systemPrompt,
		CacheSystem: true,
		User:        buildPrompt(lead),
		Prefill:     "{",
	})
	if err != nil {
		return out, eris.Wrap(err, "claude: qualify lead")
	}

	u := resp.Usage
	out.CostUSD = q.calc.Claude(q.model, cost.Tokens{
		Input:      u.InputTokens,
		Output:     u.OutputTokens,
		CacheWrite: u.CacheWriteTokens,
		CacheRead:  u.CacheReadTokens,
	})

	var reply scoreReply
	if err := json.Unmarshal([]byte(provider.CleanJSON(resp.Text)), &reply); err != nil {
		zap.L().Warn("claude: failed to parse qualification json",
			zap.String("lead", lead.Name),
			zap.Error(err),
		)
		return out, eris.Wrap(err, "claude: parse qualification json")
	}
	if reply.Score == nil {
		return out, eris.New("claude: reply has no score")
	}
	if *reply.Score < 0 || *reply.Score > 100 {
		return out, eris.Errorf("claude: score %.1f out of range", *reply.Score)
	}

	out.Score = *reply.Score
	out.Reasons = reply.Reasons
	return out, nil
}

func buildPrompt(lead model.LeadInput) string {
	var b strings.Builder
	b.WriteString("Lead:\n")
	line := func(k, v string) {
		if strings.TrimSpace(v) != "" {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
	}
	line("name", lead.Name)
	line("title", lead.Title)
	line("company", lead.Company)
	line("website", lead.Website)
	line("industry", lead.Industry)
	line("tags", strings.Join(lead.Tags, ", "))
	line("oem_certifications", strings.Join(lead.OEMCertifications, ", "))
	if lead.ICPScore != nil {
		line("icp_score_hint", fmt.Sprintf("%.0f", *lead.ICPScore))
	}
	return b.String()
}
