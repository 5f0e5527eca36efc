package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/api"
	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/internal/leadsource"
	"github.com/sells-group/lead-pipeline/internal/monitoring"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		offline := offlineFlag(cmd)
		if !offline {
			if err := cfg.Validate(config.ModeServe); err != nil {
				return err
			}
		}

		env, err := initPipeline(ctx, offline)
		if err != nil {
			return err
		}
		defer env.Close()

		var rows leadsource.Source
		if srcOpts := sourceOptions(cmd.Flags()); hasSource(srcOpts) {
			rows, err = leadsource.Open(ctx, srcOpts, initNotion)
			if err != nil {
				return err
			}
			zap.L().Info("lead source loaded", zap.Int("rows", rows.Len()))
		}

		go env.Refresher.Run(ctx, cfg.Dedup.RefreshInterval())

		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, env.Guards.States),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		handler := api.New(api.Deps{
			Runner:         env.Orchestrator,
			History:        env.Store,
			Corpus:         env.Corpus,
			Refresher:      env.Refresher,
			Rows:           rows,
			BreakerStates:  env.Guards.States,
			DefaultOptions: cfg.Pipeline.Defaults.Options(),
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}).Handler()

		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Bool("offline", offline))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "server port (default from config)")
	serveCmd.Flags().Bool("offline", false, "use stub providers instead of live APIs")
	addSourceFlags(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd)
}
