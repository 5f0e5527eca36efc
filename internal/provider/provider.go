// Package provider defines the narrow contracts the pipeline uses to reach
// external qualification, enrichment, and CRM services.
package provider

import (
	"context"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// Provider names used for config keys, guards, and logging.
const (
	NameQualification = "qualification"
	NameEnrichment    = "enrichment"
	NameCRM           = "crm"
)

// QualificationOutput is the score a qualification provider assigns a lead.
type QualificationOutput struct {
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
	Model   string   `json:"model,omitempty"`
	CostUSD float64  `json:"-"`
}

// EnrichmentOutput carries contact fields discovered for a lead.
type EnrichmentOutput struct {
	Fields  map[string]string `json:"fields"`
	Sources []string          `json:"sources,omitempty"`
	CostUSD float64           `json:"-"`
}

// CRMRequest asks the CRM to create a record for a lead.
type CRMRequest struct {
	Lead  model.LeadInput
	Match model.DuplicateMatch
}

// CRMOutput identifies the record the CRM created.
type CRMOutput struct {
	RecordID string  `json:"lead_id"`
	CostUSD  float64 `json:"-"`
}

// QualificationProvider scores a lead against the ideal customer profile.
type QualificationProvider interface {
	Execute(ctx context.Context, lead model.LeadInput) (QualificationOutput, error)
}

// EnrichmentProvider looks up additional contact data for a lead.
type EnrichmentProvider interface {
	Execute(ctx context.Context, lead model.LeadInput) (EnrichmentOutput, error)
}

// CRMProvider writes a new lead record to the CRM.
type CRMProvider interface {
	Execute(ctx context.Context, req CRMRequest) (CRMOutput, error)
}

// QualificationFunc adapts a function to QualificationProvider.
type QualificationFunc func(ctx context.Context, lead model.LeadInput) (QualificationOutput, error)

// Execute implements QualificationProvider.
func (f QualificationFunc) Execute(ctx context.Context, lead model.LeadInput) (QualificationOutput, error) {
	return f(ctx, lead)
}

// EnrichmentFunc adapts a function to EnrichmentProvider.
type EnrichmentFunc func(ctx context.Context, lead model.LeadInput) (EnrichmentOutput, error)

// Execute implements EnrichmentProvider.
func (f EnrichmentFunc) Execute(ctx context.Context, lead model.LeadInput) (EnrichmentOutput, error) {
	return f(ctx, lead)
}

// CRMFunc adapts a function to CRMProvider.
type CRMFunc func(ctx context.Context, req CRMRequest) (CRMOutput, error)

// Execute implements CRMProvider.
func (f CRMFunc) Execute(ctx context.Context, req CRMRequest) (CRMOutput, error) {
	return f(ctx, req)
}

// Set bundles the three providers a pipeline needs.
type Set struct {
	Qualification QualificationProvider
	Enrichment    EnrichmentProvider
	CRM           CRMProvider
}
