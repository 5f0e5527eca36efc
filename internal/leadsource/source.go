// Package leadsource reads batches of leads from spreadsheets and Notion
// databases and exposes them by row index.
package leadsource

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// ErrRowOutOfRange is returned by Row for an index outside the table.
var ErrRowOutOfRange = eris.New("leadsource: row index out of range")

// Source is a read-only, indexed list of leads.
type Source interface {
	Len() int
	Row(i int) (model.LeadInput, error)
	All() ([]model.LeadInput, error)
}

// StatusWriter is implemented by sources that can record a run outcome
// back onto the originating row.
type StatusWriter interface {
	MarkStatus(ctx context.Context, i int, status string) error
}

// Table is a Source backed by rows already read into memory. Each row maps
// a column name to its cell text.
type Table struct {
	origin string
	rows   []map[string]string
}

// NewTable builds a Table. origin names the backing file or database in errors.
func NewTable(origin string, rows []map[string]string) *Table {
	return &Table{origin: origin, rows: rows}
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// Row converts row i to a lead.
func (t *Table) Row(i int) (model.LeadInput, error) {
	if i < 0 || i >= len(t.rows) {
		return model.LeadInput{}, eris.Wrapf(ErrRowOutOfRange, "%s: row %d of %d", t.origin, i, len(t.rows))
	}
	lead, err := FromFields(t.rows[i])
	if err != nil {
		return model.LeadInput{}, eris.Wrapf(err, "%s: row %d", t.origin, i)
	}
	return lead, nil
}

// All converts every row. A row that fails to convert fails the whole read.
func (t *Table) All() ([]model.LeadInput, error) {
	out := make([]model.LeadInput, 0, len(t.rows))
	for i := range t.rows {
		lead, err := t.Row(i)
		if err != nil {
			return nil, err
		}
		out = append(out, lead)
	}
	return out, nil
}

// columnAliases maps normalized header text to a lead field.
var columnAliases = map[string]string{
	"name":               "name",
	"full_name":          "name",
	"contact_name":       "name",
	"contact":            "name",
	"email":              "email",
	"email_address":      "email",
	"phone":              "phone",
	"phone_number":       "phone",
	"mobile":             "phone",
	"company":            "company",
	"company_name":       "company",
	"account":            "company",
	"organization":       "company",
	"website":            "website",
	"url":                "website",
	"domain":             "website",
	"title":              "title",
	"job_title":          "title",
	"industry":           "industry",
	"tags":               "tags",
	"oem_certifications": "oem_certifications",
	"oem_certs":          "oem_certifications",
	"certifications":     "oem_certifications",
	"icp_score":          "icp_score",
	"icp":                "icp_score",
}

// normalizeHeader lowercases a header and folds spaces and dashes to
// underscores, so "Company Name" and "company-name" match.
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "_", "-", "_").Replace(h)
	return strings.Trim(h, "_")
}

// FromFields maps a column-name/value row to a lead. Columns that match no
// known field are kept in AdditionalData under their original name.
func FromFields(fields map[string]string) (model.LeadInput, error) {
	var lead model.LeadInput
	for col, raw := range fields {
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		switch columnAliases[normalizeHeader(col)] {
		case "name":
			lead.Name = v
		case "email":
			lead.Email = v
		case "phone":
			lead.Phone = v
		case "company":
			lead.Company = v
		case "website":
			lead.Website = v
		case "title":
			lead.Title = v
		case "industry":
			lead.Industry = v
		case "tags":
			lead.Tags = splitList(v)
		case "oem_certifications":
			lead.OEMCertifications = splitList(v)
		case "icp_score":
			score, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return model.LeadInput{}, eris.Wrapf(err, "leadsource: parse %s %q", col, v)
			}
			lead.ICPScore = &score
		default:
			if lead.AdditionalData == nil {
				lead.AdditionalData = make(map[string]any)
			}
			lead.AdditionalData[col] = v
		}
	}
	return lead, nil
}

// splitList splits a cell on commas or semicolons, dropping blanks.
func splitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// zipHeader pairs a header with a row of cells. Short rows leave trailing
// columns unset and extra cells are dropped.
func zipHeader(header, cells []string) map[string]string {
	row := make(map[string]string, len(header))
	for j, h := range header {
		if h == "" || j >= len(cells) {
			continue
		}
		row[h] = cells[j]
	}
	return row
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
