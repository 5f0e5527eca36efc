package main

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline for a single lead",
	Example: `  lead-pipeline run --name "Maria Lopez" --email maria@initech.com --company Initech --icp-score 72
  lead-pipeline run --name "Maria Lopez" --company Initech --dry-run --offline`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, offlineFlag(cmd))
		if err != nil {
			return err
		}
		defer env.Close()

		lead := leadFromFlags(cmd.Flags())
		opts := runOptions(cmd.Flags(), cfg.Pipeline.Defaults.Options())
		return runOne(ctx, os.Stdout, env.Orchestrator, lead, opts)
	},
}

// leadRunner runs one lead. *pipeline.Orchestrator satisfies it.
type leadRunner interface {
	Run(ctx context.Context, lead model.LeadInput, opts model.PipelineOptions) (*model.PipelineResult, error)
}

// runOne runs a lead and prints the caller-facing response. A run that does
// not complete is reported as an error after the response is printed.
func runOne(ctx context.Context, out io.Writer, r leadRunner, lead model.LeadInput, opts model.PipelineOptions) error {
	result, err := r.Run(ctx, lead, opts)
	if err != nil {
		var verr *pipeline.ValidationError
		if errors.As(err, &verr) {
			_ = writeJSON(out, pipeline.ValidationResponse(verr))
		}
		return eris.Wrap(err, "pipeline run")
	}

	if err := writeJSON(out, pipeline.ToResponse(result)); err != nil {
		return eris.Wrap(err, "write response")
	}
	if !result.Succeeded() {
		return eris.Errorf("run %s finished %s", result.RunID, result.FinalStatus)
	}
	return nil
}

func init() {
	addLeadFlags(runCmd.Flags())
	addOptionFlags(runCmd.Flags())
	_ = runCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(runCmd)
}
