// Package stub provides deterministic offline providers. They never touch
// the network, so --offline runs are repeatable and free.
package stub

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/provider"
)

// Qualifier scores leads from their ICP hint, or from a simple signal count
// when no hint is present.
type Qualifier struct{}

// Execute implements provider.QualificationProvider.
func (Qualifier) Execute(_ context.Context, lead model.LeadInput) (provider.QualificationOutput, error) {
	if lead.ICPScore != nil {
		return provider.QualificationOutput{Score: *lead.ICPScore, Reasons: []string{"icp score hint"}, Model: "stub"}, nil
	}

	score := 55.0
	var reasons []string
	if n := len(lead.OEMCertifications); n > 0 {
		score += 10 * float64(n)
		reasons = append(reasons, "oem certifications")
	}
	if lead.Website != "" {
		score += 5
		reasons = append(reasons, "has website")
	}
	if lead.Industry != "" {
		score += 5
		reasons = append(reasons, "industry known")
	}
	return provider.QualificationOutput{Score: min(score, 100), Reasons: reasons, Model: "stub"}, nil
}

// Enricher derives website and company from the lead's email domain.
type Enricher struct{}

// Execute implements provider.EnrichmentProvider.
func (Enricher) Execute(_ context.Context, lead model.LeadInput) (provider.EnrichmentOutput, error) {
	fields := map[string]string{}
	_, domain, ok := strings.Cut(strings.ToLower(strings.TrimSpace(lead.Email)), "@")
	if ok && domain != "" && !freeMail[domain] {
		fields["website"] = domain
		if name, _, _ := strings.Cut(domain, "."); name != "" {
			fields["company"] = strings.ToUpper(name[:1]) + name[1:]
		}
	}
	return provider.EnrichmentOutput{Fields: fields, Sources: []string{"stub"}}, nil
}

var freeMail = map[string]bool{
	"gmail.com":   true,
	"yahoo.com":   true,
	"outlook.com": true,
	"hotmail.com": true,
	"icloud.com":  true,
}

// CRM returns a stable record ID derived from the lead's identity.
type CRM struct{}

// Execute implements provider.CRMProvider.
func (CRM) Execute(_ context.Context, req provider.CRMRequest) (provider.CRMOutput, error) {
	key := strings.ToLower(req.Lead.Name + "|" + req.Lead.Email + "|" + req.Lead.Company)
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(key))
	return provider.CRMOutput{RecordID: "offline-" + id.String()[:8]}, nil
}

// Set returns the offline provider set.
func Set() provider.Set {
	return provider.Set{
		Qualification: Qualifier{},
		Enrichment:    Enricher{},
		CRM:           CRM{},
	}
}
