// Package salesforce creates CRM leads and loads the duplicate-matching
// corpus from a Salesforce org.
package salesforce

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/cost"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/provider"
	"github.com/sells-group/lead-pipeline/internal/resilience"
	sf "github.com/sells-group/lead-pipeline/pkg/salesforce"
)

// LeadSource is written to every Lead the pipeline creates.
const LeadSource = "Lead Pipeline"

// Salesforce rejects Leads without a Company.
const unknownCompany = "[not provided]"

// Creator implements provider.CRMProvider by inserting Lead sObjects.
type Creator struct {
	client sf.Client
	calc   *cost.Calculator
	retry  resilience.RetryConfig
}

// NewCreator creates a Salesforce-backed CRM provider.
func NewCreator(client sf.Client, calc *cost.Calculator, retry resilience.RetryConfig) *Creator {
	retry.OnRetry = resilience.RetryLogger("salesforce", "create_lead")
	return &Creator{client: client, calc: calc, retry: retry}
}

// Execute inserts the lead, retrying transient failures. A retry first checks
// whether the previous attempt already created the record, so a lost response
// does not produce a second Lead.
func (c *Creator) Execute(ctx context.Context, req provider.CRMRequest) (provider.CRMOutput, error) {
	fields := LeadFields(req.Lead, req.Match)

	calls := 0
	id, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (string, error) {
		if calls > 0 && req.Lead.Email != "" {
			calls++
			existing, err := sf.FindLeadByEmail(ctx, c.client, req.Lead.Email)
			if err != nil {
				return "", err
			}
			if existing != nil {
				zap.L().Info("salesforce: lead created by earlier attempt",
					zap.String("lead", req.Lead.Name),
					zap.String("sf_id", existing.ID),
				)
				return existing.ID, nil
			}
		}
		calls++
		return sf.CreateLead(ctx, c.client, fields)
	})

	out := provider.CRMOutput{CostUSD: c.calc.SalesforceCalls(calls)}
	var ie *sf.InsertError
	if errors.As(err, &ie) && ie.Duplicate() {
		return out, eris.Wrap(err, "salesforce: duplicate rule blocked lead")
	}
	if err != nil {
		return out, eris.Wrap(err, "salesforce: create lead")
	}
	out.RecordID = id
	return out, nil
}

// LeadFields maps a pipeline lead onto Salesforce Lead fields.
func LeadFields(lead model.LeadInput, match model.DuplicateMatch) map[string]any {
	first, last := splitName(lead.Name)
	company := strings.TrimSpace(lead.Company)
	if company == "" {
		company = unknownCompany
	}

	fields := map[string]any{
		"LastName":   last,
		"Company":    company,
		"LeadSource": LeadSource,
	}
	set := func(key, v string) {
		if v = strings.TrimSpace(v); v != "" {
			fields[key] = v
		}
	}
	set("FirstName", first)
	set("Email", lead.Email)
	set("Phone", lead.Phone)
	set("Website", lead.Website)
	set("Title", lead.Title)
	set("Industry", lead.Industry)

	if match.MatchedRecordID != "" && match.Confidence > 0 {
		fields["Description"] = fmt.Sprintf("Possible duplicate of %s (%.0f%% confidence)", match.MatchedRecordID, match.Confidence)
	}
	return fields
}

// splitName splits a full name into first and last name. A single word is
// treated as the last name.
func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
	}
}
