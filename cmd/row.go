package main

import (
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-pipeline/internal/leadsource"
)

var rowCmd = &cobra.Command{
	Use:   "row <index>",
	Short: "Run the pipeline for one row of a lead file or Notion database",
	Long:  "Reads the lead source without modifying it and runs the zero-based row index through the pipeline.",
	Example: `  lead-pipeline row 3 --csv leads.csv
  lead-pipeline row 0 --notion-db 2b1c... --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return eris.Errorf("row index must be an integer, got %q", args[0])
		}

		src, err := leadsource.Open(ctx, sourceOptions(cmd.Flags()), initNotion)
		if err != nil {
			return err
		}
		lead, err := src.Row(idx)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, offlineFlag(cmd))
		if err != nil {
			return err
		}
		defer env.Close()

		opts := runOptions(cmd.Flags(), cfg.Pipeline.Defaults.Options())
		return runOne(ctx, os.Stdout, env.Orchestrator, lead, opts)
	},
}

func init() {
	addSourceFlags(rowCmd.Flags())
	addOptionFlags(rowCmd.Flags())
	rootCmd.AddCommand(rowCmd)
}
