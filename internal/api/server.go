// Package api exposes the lead pipeline and its execution history over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/dedup"
	"github.com/sells-group/lead-pipeline/internal/leadsource"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/store"
)

// Runner executes a single lead. *pipeline.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, lead model.LeadInput, opts model.PipelineOptions) (*model.PipelineResult, error)
}

// History is the read side of the execution store.
type History interface {
	GetExecution(ctx context.Context, id string) (*store.Execution, error)
	ListExecutions(ctx context.Context, f store.Filter) ([]store.Execution, error)
	Stats(ctx context.Context, f store.Filter) (*store.Stats, error)
}

// CorpusRefresher rebuilds the dedup index on demand.
type CorpusRefresher interface {
	Refresh(ctx context.Context) (*dedup.Index, error)
	Status() (time.Time, error)
}

// Deps wires the server to the rest of the application. Rows, Refresher,
// and BreakerStates are optional.
type Deps struct {
	Runner         Runner
	History        History
	Corpus         *dedup.Holder
	Refresher      CorpusRefresher
	Rows           leadsource.Source
	BreakerStates  func() map[string]string
	DefaultOptions model.PipelineOptions
	AllowedOrigins []string
}

// Server serves the pipeline API.
type Server struct {
	deps Deps
}

// New creates a server.
func New(deps Deps) *Server {
	if deps.Corpus == nil {
		deps.Corpus = dedup.NewHolder(nil)
	}
	return &Server{deps: deps}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/leads", s.handleSubmitLead)
		r.Post("/leads/rows/{index}", s.handleRunRow)

		r.Get("/executions", s.handleListExecutions)
		r.Get("/executions/stats", s.handleStats)
		r.Get("/executions/{id}", s.handleGetExecution)

		r.Post("/corpus/refresh", s.handleRefreshCorpus)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
