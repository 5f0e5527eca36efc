package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/internal/dedup"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/store"
)

// offlineConfig points the global config at a temp SQLite store and a
// corpus snapshot, with no provider credentials.
func offlineConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	corpus := filepath.Join(dir, "corpus.json")
	require.NoError(t, writeSnapshot(corpus, snapshotCorpus))

	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.Path = filepath.Join(dir, "runs.db")
	c.Batch.MaxConcurrentLeads = 2
	c.Pipeline.MinQualificationScore = 60
	c.Pipeline.FallbackScore = 50
	c.Dedup.Config = dedup.DefaultConfig()
	c.Dedup.CorpusFile = corpus

	cfg = c
	t.Cleanup(func() { cfg = nil })
}

func TestInitPipeline_Offline(t *testing.T) {
	offlineConfig(t)
	ctx := context.Background()

	env, err := initPipeline(ctx, true)
	require.NoError(t, err)
	defer env.Close()

	assert.Equal(t, 2, env.Corpus.Load().Len())

	score := 80.0
	opts := model.PipelineOptions{StopOnDuplicate: true, CreateInCRM: true}
	res, err := env.Orchestrator.Run(ctx, model.LeadInput{Name: "Maria Lopez", Email: "maria@initech.com", ICPScore: &score}, opts)
	require.NoError(t, err)
	assert.Equal(t, model.FinalStatusCompleted, res.FinalStatus)

	execs, err := env.Store.ListExecutions(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, res.RunID, execs[0].ID)
}

func TestInitPipeline_OfflineMissingCorpusWarns(t *testing.T) {
	offlineConfig(t)
	cfg.Dedup.CorpusFile = filepath.Join(t.TempDir(), "missing.json")

	env, err := initPipeline(context.Background(), true)
	require.NoError(t, err)
	defer env.Close()
	assert.Equal(t, 0, env.Corpus.Load().Len())
}

func TestInitPipeline_InvalidConfig(t *testing.T) {
	offlineConfig(t)
	cfg.Batch.MaxConcurrentLeads = 0

	_, err := initPipeline(context.Background(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.max_concurrent_leads")
}
