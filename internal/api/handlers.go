package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/leadsource"
	"github.com/sells-group/lead-pipeline/internal/model"
	"github.com/sells-group/lead-pipeline/internal/pipeline"
	"github.com/sells-group/lead-pipeline/internal/store"
)

const maxBodyBytes = 1 << 20

type submitRequest struct {
	Lead    model.LeadInput        `json:"lead"`
	Options *model.PipelineOptions `json:"options,omitempty"`
}

type rowRequest struct {
	Options *model.PipelineOptions `json:"options,omitempty"`
}

func (s *Server) handleSubmitLead(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.run(w, r, req.Lead, req.Options)
}

func (s *Server) handleRunRow(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rows == nil {
		writeError(w, http.StatusNotFound, "no lead source loaded")
		return
	}
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "row index must be an integer")
		return
	}

	var req rowRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	lead, err := s.deps.Rows.Row(idx)
	if errors.Is(err, leadsource.ErrRowOutOfRange) {
		writeError(w, http.StatusNotFound, "row "+strconv.Itoa(idx)+" not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.run(w, r, lead, req.Options)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, lead model.LeadInput, opts *model.PipelineOptions) {
	o := s.deps.DefaultOptions
	if opts != nil {
		o = *opts
	}

	result, err := s.deps.Runner.Run(r.Context(), lead, o)
	if err != nil {
		var verr *pipeline.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, pipeline.ValidationResponse(verr))
			return
		}
		zap.L().Error("api: run lead", zap.String("lead", lead.Name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "pipeline run failed")
		return
	}
	writeJSON(w, http.StatusOK, pipeline.ToResponse(result))
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	execs, err := s.deps.History.ListExecutions(r.Context(), f)
	if err != nil {
		zap.L().Error("api: list executions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if r.URL.Query().Get("full") != "true" {
		for i := range execs {
			execs[i].Result = nil
		}
	}
	if execs == nil {
		execs = []store.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": execs,
		"count":      len(execs),
	})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.History.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		zap.L().Error("api: get execution", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load execution")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stats, err := s.deps.History.Stats(r.Context(), f)
	if err != nil {
		zap.L().Error("api: execution stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRefreshCorpus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "corpus refresh is not configured")
		return
	}
	idx, err := s.deps.Refresher.Refresh(r.Context())
	if err != nil {
		zap.L().Error("api: refresh corpus", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records":  idx.Len(),
		"built_at": idx.BuiltAt(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	idx := s.deps.Corpus.Load()
	body := map[string]any{
		"status":         "ok",
		"corpus_records": idx.Len(),
	}
	if !idx.BuiltAt().IsZero() {
		body["corpus_built_at"] = idx.BuiltAt()
	}
	if s.deps.Refresher != nil {
		if _, err := s.deps.Refresher.Status(); err != nil {
			body["corpus_refresh_error"] = err.Error()
		}
	}
	if s.deps.BreakerStates != nil {
		states := s.deps.BreakerStates()
		body["providers"] = states
		for _, st := range states {
			if st == "open" {
				body["status"] = "degraded"
			}
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// parseFilter reads history query parameters: success, status, lead, since,
// until (RFC 3339), limit, and offset.
func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	var f store.Filter

	if v := q.Get("success"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("success must be true or false")
		}
		f.Success = &b
	}
	f.FinalStatus = model.FinalStatus(strings.TrimSpace(q.Get("status")))
	f.LeadName = strings.TrimSpace(q.Get("lead"))

	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"since", &f.Since}, {"until", &f.Until}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New(p.key + " must be an RFC 3339 timestamp")
		}
		*p.dst = t
	}

	for _, p := range []struct {
		key string
		dst *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		v := q.Get(p.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New(p.key + " must be a non-negative integer")
		}
		*p.dst = n
	}
	return f, nil
}

// decodeBody decodes a JSON body. When optional is set an empty body is
// accepted and leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	err := dec.Decode(dst)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
