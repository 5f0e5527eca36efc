// Package perplexity looks up missing contact fields for a lead using
// Perplexity's web-grounded chat completions.
package perplexity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/cost"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/provider"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	pplx "github.com/sells-group/lead-pipeline/pkg/perplexity"
)

// EnrichedFields lists the keys the enricher asks for and returns.
var EnrichedFields = []string{"email", "phone", "company", "website", "industry", "title"}

const systemPrompt = `You research B2B sales contacts on the public web.
Reply with a single JSON object using only these keys: email, phone, company, website, industry, title.
Use an empty string for anything you cannot verify. Do not guess email addresses.`

// Enricher implements provider.EnrichmentProvider with Perplexity.
type Enricher struct {
	client pplx.Client
	calc   *cost.Calculator
	model  string
}

// NewEnricher creates a Perplexity-backed enrichment provider. An empty
// model uses the client's default.
func NewEnricher(client pplx.Client, calc *cost.Calculator, model string) *Enricher {
	return &Enricher{client: client, calc: calc, model: model}
}

// Execute queries Perplexity for the lead's contact details and returns the
// non-empty fields it found. The query cost is reported even on parse errors.
func (e *Enricher) Execute(ctx context.Context, lead model.LeadInput) (provider.EnrichmentOutput, error) {
	var out provider.EnrichmentOutput

	resp, err := e.client.ChatCompletion(ctx, pplx.ChatCompletionRequest{
		Model: e.model,
		Messages: []pplx.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildQuery(lead)},
		},
	})
	if err != nil {
		var se *pplx.StatusError
		if errors.As(err, &se) && resilience.IsTransientHTTPStatus(se.StatusCode) {
			err = resilience.NewTransientError(err, se.StatusCode)
		}
		return out, eris.Wrap(err, "perplexity: enrich lead")
	}
	out.CostUSD = e.calc.Perplexity(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	out.Sources = resp.Citations

	var raw map[string]any
	if err := json.Unmarshal([]byte(provider.CleanJSON(resp.Content())), &raw); err != nil {
		zap.L().Warn("perplexity: failed to parse enrichment json",
			zap.String("lead", lead.Name),
			zap.Error(err),
		)
		return out, eris.Wrap(err, "perplexity: parse enrichment json")
	}

	out.Fields = make(map[string]string, len(EnrichedFields))
	for _, k := range EnrichedFields {
		s, ok := raw[k].(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" && !strings.EqualFold(s, "unknown") {
			out.Fields[k] = s
		}
	}
	return out, nil
}

func buildQuery(lead model.LeadInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Find contact details for %s", lead.Name)
	if lead.Title != "" {
		fmt.Fprintf(&b, ", %s", lead.Title)
	}
	if lead.Company != "" {
		fmt.Fprintf(&b, " at %s", lead.Company)
	}
	if lead.Website != "" {
		fmt.Fprintf(&b, " (%s)", lead.Website)
	}
	b.WriteString(".")

	var known []string
	if lead.Email != "" {
		known = append(known, "email="+lead.Email)
	}
	if lead.Phone != "" {
		known = append(known, "phone="+lead.Phone)
	}
	if len(known) > 0 {
		fmt.Fprintf(&b, " Already known: %s.", strings.Join(known, ", "))
	}
	return b.String()
}
