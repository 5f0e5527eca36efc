package model

import (
	"maps"
	"slices"
	"strings"
)

// LeadInput is a prospective sales lead submitted to the pipeline.
// It is treated as immutable once a run starts; enrichment produces a copy.
type LeadInput struct {
	Name              string         `json:"name" validate:"required"`
	Email             string         `json:"email,omitempty" validate:"omitempty,email"`
	Phone             string         `json:"phone,omitempty"`
	Company           string         `json:"company,omitempty"`
	Website           string         `json:"website,omitempty"`
	Title             string         `json:"title,omitempty"`
	Industry          string         `json:"industry,omitempty"`
	Tags              []string       `json:"tags,omitempty"`
	OEMCertifications []string       `json:"oem_certifications,omitempty"`
	ICPScore          *float64       `json:"icp_score,omitempty" validate:"omitempty,gte=0,lte=100"`
	AdditionalData    map[string]any `json:"additional_data,omitempty"`
}

// Clone returns a deep copy of the lead.
func (l LeadInput) Clone() LeadInput {
	out := l
	out.Tags = slices.Clone(l.Tags)
	out.OEMCertifications = slices.Clone(l.OEMCertifications)
	out.AdditionalData = maps.Clone(l.AdditionalData)
	if l.ICPScore != nil {
		v := *l.ICPScore
		out.ICPScore = &v
	}
	return out
}

// HasIdentity reports whether the lead carries at least one field a
// downstream matcher or CRM can key on.
func (l LeadInput) HasIdentity() bool {
	return strings.TrimSpace(l.Email) != "" ||
		strings.TrimSpace(l.Phone) != "" ||
		strings.TrimSpace(l.Company) != ""
}

// Merge fills empty contact fields on a copy of the lead from enriched values.
// Fields already present on the lead are never overwritten.
func (l LeadInput) Merge(fields map[string]string) LeadInput {
	out := l.Clone()
	fill := func(dst *string, key string) {
		if strings.TrimSpace(*dst) != "" {
			return
		}
		if v := strings.TrimSpace(fields[key]); v != "" {
			*dst = v
		}
	}
	fill(&out.Email, "email")
	fill(&out.Phone, "phone")
	fill(&out.Company, "company")
	fill(&out.Website, "website")
	fill(&out.Title, "title")
	fill(&out.Industry, "industry")
	return out
}

// PipelineOptions controls a single pipeline run. Supplied once, never mutated.
type PipelineOptions struct {
	StopOnDuplicate bool `json:"stop_on_duplicate"`
	SkipEnrichment  bool `json:"skip_enrichment"`
	CreateInCRM     bool `json:"create_in_crm"`
	DryRun          bool `json:"dry_run"`
}
