package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/internal/dedup"
	"github.com/sells-group/lead-pipeline/internal/model"
)

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Load and query the dedup corpus",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate(config.ModeCorpus)
	},
}

// -- corpus refresh --

var corpusRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Load the corpus and optionally export it as a JSON snapshot",
	Long:  "Loads contacts and leads from the configured corpus source. With --out, writes the records to a file usable as dedup.corpus_file.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		source, err := initCorpusSource()
		if err != nil {
			return err
		}
		records, err := source.Contacts(ctx)
		if err != nil {
			return eris.Wrap(err, "corpus refresh")
		}

		out, _ := cmd.Flags().GetString("out")
		if out != "" {
			if err := writeSnapshot(out, records); err != nil {
				return err
			}
		}
		zap.L().Info("corpus loaded", zap.Int("records", len(records)), zap.String("out", out))
		return nil
	},
}

// -- corpus check --

var corpusCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate one lead against the corpus and print the best match",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		engineCfg, err := cfg.Dedup.Engine()
		if err != nil {
			return eris.Wrap(err, "dedup config")
		}
		source, err := initCorpusSource()
		if err != nil {
			return err
		}

		match, err := checkLead(ctx, dedup.NewEngine(engineCfg), source, leadFromFlags(cmd.Flags()))
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, match)
	},
}

// corpusCheck is the printed result of corpus check.
type corpusCheck struct {
	model.DuplicateMatch
	IsDuplicate bool    `json:"is_duplicate"`
	Threshold   float64 `json:"threshold"`
	CorpusSize  int     `json:"corpus_size"`
}

func checkLead(ctx context.Context, engine *dedup.Engine, source dedup.ContactSource, lead model.LeadInput) (corpusCheck, error) {
	holder := dedup.NewHolder(nil)
	idx, err := dedup.NewRefresher(source, engine, holder).Refresh(ctx)
	if err != nil {
		return corpusCheck{}, err
	}
	m := engine.Evaluate(lead, idx)
	return corpusCheck{
		DuplicateMatch: m,
		IsDuplicate:    engine.IsDuplicate(m),
		Threshold:      engine.Config().Threshold,
		CorpusSize:     idx.Len(),
	}, nil
}

// initCorpusSource returns the configured corpus source, authenticating
// with Salesforce only when no corpus file is set.
func initCorpusSource() (dedup.ContactSource, error) {
	if cfg.Dedup.CorpusFile != "" {
		return corpusSource(nil), nil
	}
	sfClient, err := initSalesforce()
	if err != nil {
		return nil, err
	}
	return corpusSource(sfClient), nil
}

func writeSnapshot(path string, records []dedup.Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal corpus snapshot")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return eris.Wrap(err, "write corpus snapshot")
	}
	return nil
}

func init() {
	corpusRefreshCmd.Flags().String("out", "", "write the loaded records to this JSON file")

	addLeadFlags(corpusCheckCmd.Flags())
	_ = corpusCheckCmd.MarkFlagRequired("name")

	corpusCmd.AddCommand(corpusRefreshCmd)
	corpusCmd.AddCommand(corpusCheckCmd)
	rootCmd.AddCommand(corpusCmd)
}
