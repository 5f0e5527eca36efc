package main

import (
	"context"
	"os"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/internal/cost"
	"github.com/sells-group/lead-pipeline/internal/dedup"
	"github.com/sells-group/lead-pipeline/internal/pipeline"
	"github.com/sells-group/lead-pipeline/internal/provider"
	"github.com/sells-group/lead-pipeline/internal/provider/claude"
	pplxprovider "github.com/sells-group/lead-pipeline/internal/provider/perplexity"
	sfprovider "github.com/sells-group/lead-pipeline/internal/provider/salesforce"
	"github.com/sells-group/lead-pipeline/internal/provider/stub"
	"github.com/sells-group/lead-pipeline/internal/store"
	anthropicpkg "github.com/sells-group/lead-pipeline/pkg/anthropic"
	"github.com/sells-group/lead-pipeline/pkg/notion"
	"github.com/sells-group/lead-pipeline/pkg/perplexity"
	sfpkg "github.com/sells-group/lead-pipeline/pkg/salesforce"
)

// pipelineEnv holds the store, corpus, and orchestrator used by the
// run/row/batch/serve commands.
type pipelineEnv struct {
	Store        store.Store
	Engine       *dedup.Engine
	Corpus       *dedup.Holder
	Refresher    *dedup.Refresher
	Guards       provider.Guards
	Orchestrator *pipeline.Orchestrator
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates config, opens the store, loads the dedup corpus,
// and builds the orchestrator. offline swaps every external provider for a
// deterministic stub. Callers should defer env.Close().
func initPipeline(ctx context.Context, offline bool) (*pipelineEnv, error) {
	mode := config.ModeRun
	if offline {
		mode = config.ModeOffline
	}
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	engineCfg, err := cfg.Dedup.Engine()
	if err != nil {
		return nil, eris.Wrap(err, "dedup config")
	}
	engine := dedup.NewEngine(engineCfg)

	var (
		providers provider.Set
		sfClient  sfpkg.Client
	)
	if offline {
		providers = stub.Set()
		zap.L().Info("offline mode: using stub providers")
	} else {
		sfClient, err = initSalesforce()
		if err != nil {
			return nil, err
		}
		providers = liveProviders(sfClient)
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	corpus := dedup.NewHolder(nil)
	env := &pipelineEnv{
		Store:     st,
		Engine:    engine,
		Corpus:    corpus,
		Refresher: dedup.NewRefresher(corpusSource(sfClient), engine, corpus),
		Guards:    provider.NewGuards(cfg.Providers),
	}

	if _, err := env.Refresher.Refresh(ctx); err != nil {
		if !offline {
			env.Close()
			return nil, eris.Wrap(err, "load dedup corpus")
		}
		zap.L().Warn("offline mode: running without a dedup corpus", zap.Error(err))
	}

	env.Orchestrator = pipeline.New(
		cfg.Pipeline.Orchestrator(),
		env.Guards.Wrap(providers),
		engine,
		corpus,
		st,
	)
	return env, nil
}

// liveProviders builds the Claude, Perplexity, and Salesforce adapters.
// Without an Anthropic key, leads are qualified from their ICP score.
func liveProviders(sfClient sfpkg.Client) provider.Set {
	calc := cost.NewCalculator(cfg.Pricing)

	var qualifier provider.QualificationProvider = provider.ICPScorer{}
	if cfg.Anthropic.Key != "" {
		qualifier = claude.NewQualifier(
			anthropicpkg.NewClient(cfg.Anthropic.Key),
			calc,
			claude.WithModel(cfg.Anthropic.Model),
			claude.WithMaxTokens(cfg.Anthropic.MaxTokens),
		)
	} else {
		zap.L().Warn("anthropic key not set, qualifying leads from icp_score")
	}

	pplx := perplexity.NewClient(cfg.Perplexity.Key,
		perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
		perplexity.WithModel(cfg.Perplexity.Model),
	)

	return provider.Set{
		Qualification: qualifier,
		Enrichment:    pplxprovider.NewEnricher(pplx, calc, cfg.Perplexity.Model),
		CRM:           sfprovider.NewCreator(sfClient, calc, cfg.Salesforce.Retry()),
	}
}

// corpusSource picks the dedup corpus: a JSON export when configured,
// otherwise Salesforce contacts and leads. With neither, the corpus is empty.
func corpusSource(sfClient sfpkg.Client) dedup.ContactSource {
	if cfg.Dedup.CorpusFile != "" {
		return dedup.FileSource{Path: cfg.Dedup.CorpusFile}
	}
	if sfClient != nil {
		lookback := cfg.Salesforce
		return sfprovider.NewCorpusSource(sfClient, func() time.Time {
			return lookback.CorpusSince(time.Now())
		})
	}
	return dedup.StaticSource(nil)
}

// initSalesforce authenticates with the JWT bearer flow.
func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (LEADPIPE_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf, sfpkg.WithRateLimit(cfg.Salesforce.RateLimit)), nil
}

// initNotion returns a Notion client or an error when no token is set.
func initNotion() (notion.Client, error) {
	if cfg.Notion.Token == "" {
		return nil, eris.New("notion token is required (LEADPIPE_NOTION_TOKEN)")
	}
	return notion.NewClient(cfg.Notion.Token, notion.WithRateLimit(cfg.Notion.RateLimit)), nil
}
