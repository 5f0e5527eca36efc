package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/leadsource"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/pipeline"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run every row of a lead file or Notion database",
	Long:  "Runs leads with bounded concurrency. SIGINT or SIGTERM stops new runs and cancels in-flight ones, which are recorded as cancelled.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		src, err := leadsource.Open(ctx, sourceOptions(cmd.Flags()), initNotion)
		if err != nil {
			return err
		}

		limit, _ := cmd.Flags().GetInt("limit")
		leads, rows := loadRows(src, limit)
		if len(leads) == 0 {
			zap.L().Info("no leads to process")
			return nil
		}

		env, err := initPipeline(ctx, offlineFlag(cmd))
		if err != nil {
			return err
		}
		defer env.Close()

		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentLeads
		}
		opts := runOptions(cmd.Flags(), cfg.Pipeline.Defaults.Options())

		summary := env.Orchestrator.RunBatch(ctx, leads, opts, concurrency)

		if sw, ok := src.(leadsource.StatusWriter); ok {
			if write, _ := cmd.Flags().GetBool("write-status"); write {
				// Statuses are written even after an interrupt.
				wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
				markStatuses(wctx, sw, summary, rows)
				cancel()
			}
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			if err := writeJSON(os.Stdout, summary); err != nil {
				return err
			}
		} else {
			formatBatchSummary(os.Stdout, summary)
		}

		if ctx.Err() != nil {
			return eris.New("batch interrupted")
		}
		return nil
	},
}

// loadRows converts source rows to leads. Rows that fail to convert are
// logged and skipped. rows maps each returned lead back to its source row.
func loadRows(src leadsource.Source, limit int) (leads []model.LeadInput, rows []int) {
	n := src.Len()
	if limit > 0 && n > limit {
		n = limit
	}
	for i := range n {
		lead, err := src.Row(i)
		if err != nil {
			zap.L().Warn("skipping unreadable row", zap.Int("row", i), zap.Error(err))
			continue
		}
		leads = append(leads, lead)
		rows = append(rows, i)
	}
	return leads, rows
}

// markStatuses writes each run's final status back to its source row.
// Leads that never ran are left untouched.
func markStatuses(ctx context.Context, sw leadsource.StatusWriter, s pipeline.BatchSummary, rows []int) {
	for _, item := range s.Items {
		status := ""
		switch {
		case item.Result != nil:
			status = string(item.Result.FinalStatus)
		case item.Err != nil:
			status = "invalid"
		default:
			continue
		}
		if err := sw.MarkStatus(ctx, rows[item.Index], status); err != nil {
			zap.L().Warn("batch: write status",
				zap.Int("row", rows[item.Index]),
				zap.String("status", status),
				zap.Error(err),
			)
		}
	}
}

// formatBatchSummary writes batch totals and per-status counts to w.
func formatBatchSummary(out io.Writer, s pipeline.BatchSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Leads:\t%d\n", s.Total)

	statuses := make([]string, 0, len(s.ByStatus))
	for st := range s.ByStatus {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", st, s.ByStatus[model.FinalStatus(st)])
	}

	_, _ = fmt.Fprintf(w, "Invalid:\t%d\n", s.Invalid)
	_, _ = fmt.Fprintf(w, "Not started:\t%d\n", s.NotStarted)
	_, _ = fmt.Fprintf(w, "Cost:\t$%.4f\n", s.CostUSD)
	_ = w.Flush()
}

func init() {
	addSourceFlags(batchCmd.Flags())
	addOptionFlags(batchCmd.Flags())
	batchCmd.Flags().Int("limit", 0, "max number of rows to process (0 = all)")
	batchCmd.Flags().Int("concurrency", 0, "max concurrent runs (default from config)")
	batchCmd.Flags().Bool("write-status", false, "write each run's final status back to the Notion page")
	batchCmd.Flags().Bool("json", false, "print the full batch summary as JSON")
	rootCmd.AddCommand(batchCmd)
}
