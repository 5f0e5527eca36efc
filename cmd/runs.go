package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/monitoring"
	"github.com/sells-group/lead-pipeline/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect pipeline execution history",
	Long:  "Commands for listing, viewing, and summarizing recorded pipeline runs.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate(config.ModeHistory)
	},
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter, err := historyFilter(cmd.Flags(), time.Now())
		if err != nil {
			return err
		}
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		execs, err := st.ListExecutions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(execs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, execs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the full recorded result of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		exec, err := st.GetExecution(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		return writeJSON(os.Stdout, exec)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate cost and latency statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter, err := historyFilter(cmd.Flags(), time.Now())
		if err != nil {
			return err
		}
		stats, err := st.Stats(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, stats)
		return nil
	},
}

// -- runs alerts --

var runsAlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Evaluate alert thresholds over recent runs",
	Long:  "Collects a health snapshot over the monitoring lookback window and prints it with any alerts it triggers. With --send, alerts are posted to monitoring.webhook_url.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		send, _ := cmd.Flags().GetBool("send")
		report, err := evaluateAlerts(ctx, st, cfg.Monitoring, send)
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, report)
	},
}

type alertReport struct {
	Snapshot *monitoring.Snapshot `json:"snapshot"`
	Alerts   []monitoring.Alert   `json:"alerts"`
	Sent     int                  `json:"sent"`
}

func evaluateAlerts(ctx context.Context, stats monitoring.StatsReader, mc config.MonitoringConfig, send bool) (alertReport, error) {
	lookback := mc.LookbackWindowHours
	if lookback <= 0 {
		lookback = 24
	}
	snap, err := monitoring.NewCollector(stats, nil).Collect(ctx, lookback)
	if err != nil {
		return alertReport{}, eris.Wrap(err, "runs alerts")
	}

	alerter := monitoring.NewAlerter(mc)
	report := alertReport{Snapshot: snap, Alerts: alerter.Evaluate(snap)}
	if report.Alerts == nil {
		report.Alerts = []monitoring.Alert{}
	}
	if send {
		report.Sent = alerter.SendAlerts(ctx, report.Alerts)
	}
	return report, nil
}

func addHistoryFlags(fs *pflag.FlagSet, since time.Duration) {
	fs.String("status", "", "filter by final status (completed, rejected, duplicate_halted, crm_failed, cancelled)")
	fs.String("lead", "", "filter by lead name")
	fs.String("success", "", "filter by outcome (true or false)")
	fs.Duration("since", since, "only runs started within this window (e.g. 24h, 168h)")
}

// historyFilter builds a store filter from addHistoryFlags flags.
func historyFilter(fs *pflag.FlagSet, now time.Time) (store.Filter, error) {
	var f store.Filter

	status, _ := fs.GetString("status")
	f.FinalStatus = model.FinalStatus(status)
	f.LeadName, _ = fs.GetString("lead")

	if v, _ := fs.GetString("success"); v != "" {
		switch v {
		case "true":
			b := true
			f.Success = &b
		case "false":
			b := false
			f.Success = &b
		default:
			return f, eris.Errorf("--success must be true or false, got %q", v)
		}
	}
	if since, _ := fs.GetDuration("since"); since > 0 {
		f.Since = now.Add(-since)
	}
	return f, nil
}

func init() {
	addHistoryFlags(runsListCmd.Flags(), 0)
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	addHistoryFlags(runsStatsCmd.Flags(), 24*time.Hour)

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	runsAlertsCmd.Flags().Bool("send", false, "post triggered alerts to the configured webhook")
	runsCmd.AddCommand(runsAlertsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of executions to w.
func formatRunsList(out io.Writer, execs []store.Execution) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tLEAD\tSTATUS\tFAILED_STAGE\tCREATED\tLATENCY\tCOST")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t------------\t-------\t-------\t----")

	for _, e := range execs {
		lead := e.LeadName
		if len(lead) > 30 {
			lead = lead[:27] + "..."
		}

		failed := ""
		if e.Result != nil {
			if out, ok := e.Result.FailedStage(); ok {
				failed = string(out.Stage)
			}
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%dms\t$%.4f\n",
			truncateID(e.ID),
			lead,
			e.FinalStatus,
			failed,
			e.CreatedAt.Format("2006-01-02 15:04"),
			e.TotalLatencyMs,
			e.TotalCostUSD,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats to w.
func formatRunStats(out io.Writer, s *store.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.Count)
	_, _ = fmt.Fprintf(w, "Succeeded:\t%d\n", s.Succeeded)

	statuses := make([]string, 0, len(s.ByStatus))
	for st := range s.ByStatus {
		statuses = append(statuses, st)
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", st, s.ByStatus[st])
	}

	if s.Count > 0 {
		_, _ = fmt.Fprintf(w, "Avg latency:\t%.0fms\n", s.AvgLatencyMs)
	}
	_, _ = fmt.Fprintf(w, "Total cost:\t$%.4f\n", s.TotalCostUSD)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
