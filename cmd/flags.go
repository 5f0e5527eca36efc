package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sells-group/lead-pipeline/internal/leadsource"
	"github.com/sells-group/lead-pipeline/internal/model"
)

// addOptionFlags registers the per-run option overrides and --offline.
func addOptionFlags(fs *pflag.FlagSet) {
	fs.Bool("stop-on-duplicate", false, "halt the run when a duplicate is found")
	fs.Bool("skip-enrichment", false, "skip the enrichment stage")
	fs.Bool("create-in-crm", true, "create the lead in Salesforce")
	fs.Bool("dry-run", false, "run every stage except the CRM write")
	fs.Bool("offline", false, "use stub providers instead of live APIs")
}

// runOptions starts from the configured defaults and applies any option
// flags the user set explicitly.
func runOptions(fs *pflag.FlagSet, defaults model.PipelineOptions) model.PipelineOptions {
	opts := defaults
	set := func(name string, dst *bool) {
		if fs.Changed(name) {
			*dst, _ = fs.GetBool(name)
		}
	}
	set("stop-on-duplicate", &opts.StopOnDuplicate)
	set("skip-enrichment", &opts.SkipEnrichment)
	set("create-in-crm", &opts.CreateInCRM)
	set("dry-run", &opts.DryRun)
	return opts
}

func offlineFlag(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("offline")
	return v
}

// addLeadFlags registers the fields of a single lead.
func addLeadFlags(fs *pflag.FlagSet) {
	fs.String("name", "", "contact name (required)")
	fs.String("email", "", "contact email")
	fs.String("phone", "", "contact phone")
	fs.String("company", "", "company name")
	fs.String("website", "", "company website")
	fs.String("title", "", "job title")
	fs.String("industry", "", "industry")
	fs.StringSlice("tag", nil, "lead tag (repeatable)")
	fs.StringSlice("oem-cert", nil, "OEM certification (repeatable)")
	fs.Float64("icp-score", 0, "ICP score hint, 0-100")
}

// leadFromFlags builds a lead from addLeadFlags flags.
func leadFromFlags(fs *pflag.FlagSet) model.LeadInput {
	str := func(name string) string {
		v, _ := fs.GetString(name)
		return v
	}
	lead := model.LeadInput{
		Name:     str("name"),
		Email:    str("email"),
		Phone:    str("phone"),
		Company:  str("company"),
		Website:  str("website"),
		Title:    str("title"),
		Industry: str("industry"),
	}
	lead.Tags, _ = fs.GetStringSlice("tag")
	lead.OEMCertifications, _ = fs.GetStringSlice("oem-cert")
	if fs.Changed("icp-score") {
		score, _ := fs.GetFloat64("icp-score")
		lead.ICPScore = &score
	}
	return lead
}

// addSourceFlags registers the lead source selectors used by row and batch.
func addSourceFlags(fs *pflag.FlagSet) {
	fs.String("csv", "", "path to a CSV lead file")
	fs.String("xlsx", "", "path to an XLSX lead workbook")
	fs.String("sheet", "", "XLSX sheet name (default first sheet)")
	fs.String("notion-db", "", "Notion lead database ID")
	fs.String("notion-status", "", "only read Notion pages with this Status")
}

func sourceOptions(fs *pflag.FlagSet) leadsource.Options {
	str := func(name string) string {
		v, _ := fs.GetString(name)
		return v
	}
	opts := leadsource.Options{
		CSV:          str("csv"),
		XLSX:         str("xlsx"),
		Sheet:        str("sheet"),
		NotionDB:     str("notion-db"),
		NotionStatus: str("notion-status"),
	}
	if opts.NotionDB != "" && opts.NotionStatus == "" {
		opts.NotionStatus = cfg.Notion.LeadStatus
	}
	return opts
}

func hasSource(opts leadsource.Options) bool {
	return opts.CSV != "" || opts.XLSX != "" || opts.NotionDB != ""
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
