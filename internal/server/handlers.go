package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeanpaul/tutor/internal/cognitive"
	"github.com/jeanpaul/tutor/internal/health"
	"github.com/jeanpaul/tutor/internal/memory"
	"github.com/jeanpaul/tutor/internal/orchestrator"
	"github.com/jeanpaul/tutor/internal/retrieval"
	"github.com/jeanpaul/tutor/internal/schema"
	"github.com/jeanpaul/tutor/internal/types"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error       string   `json:"error"`
	Methodology string   `json:"methodology,omitempty"`
	Details     []string `json:"details,omitempty"`
}

type searchRequest struct {
	Query       string            `json:"query"`
	UserContext types.UserContext `json:"user_context"`
	Limit       int               `json:"limit"`
}

type searchResponse struct {
	Query   string             `json:"query"`
	Results []retrieval.Result `json:"results"`
}

type indexResponse struct {
	ID      string `json:"id"`
	Indexed bool   `json:"indexed"`
	Version int    `json:"version"`
}

type analyzeRequest struct {
	Query   string `json:"query"`
	Context string `json:"context"`
}

type validateRequest struct {
	Solution string `json:"solution"`
	Problem  string `json:"problem"`
	Context  string `json:"context"`
}

type validateResponse struct {
	cognitive.Examination
	Overall float64 `json:"overall"`
}

type consolidateRequest struct {
	SessionID string                 `json:"session_id"`
	Topic     string                 `json:"topic"`
	Turn      types.ConversationTurn `json:"turn"`
	Insights  []string               `json:"insights"`
}

type memoryResponse struct {
	SessionID string       `json:"session_id"`
	State     memory.State `json:"state"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	writeJSON(w, status, resp)
}

// decode reads the body, checks it against the named schema and unmarshals
// it into dst. It writes the 400 itself and reports false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, schemaName string, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large"})
		return false
	}
	if err := s.d.Validator.Validate(schemaName, body); err != nil {
		resp := ErrorResponse{Error: schema.ErrInvalid.Error()}
		var ve *schema.ValidationError
		if errors.As(err, &ve) {
			resp.Details = ve.Errors
		} else {
			resp.Error = err.Error()
		}
		writeError(w, http.StatusBadRequest, resp)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "decode body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) askHandler(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.AskRequest
	if !s.decode(w, r, schema.Ask, &req) {
		return
	}

	resp, err := s.d.Service.Ask(r.Context(), req)
	if err != nil {
		status, body := askErrorResponse(err, req.Methodology)
		writeError(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// askErrorResponse maps a surfaced failure to its status code.
func askErrorResponse(err error, requested string) (int, ErrorResponse) {
	body := ErrorResponse{Error: err.Error(), Methodology: requested}
	var askErr *orchestrator.AskError
	if errors.As(err, &askErr) {
		body.Methodology = askErr.Methodology
	}

	switch {
	case errors.Is(err, orchestrator.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, body
	case errors.Is(err, orchestrator.ErrTimeout):
		return http.StatusGatewayTimeout, body
	case errors.Is(err, orchestrator.ErrTemplateNotFound):
		return http.StatusInternalServerError, body
	case errors.Is(err, orchestrator.ErrUnknownProvider), errors.Is(err, orchestrator.ErrEmptyQuery):
		return http.StatusBadRequest, body
	}
	return http.StatusInternalServerError, body
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	var chunk retrieval.ContentChunk
	if !s.decode(w, r, schema.IndexChunk, &chunk) {
		return
	}
	stored, err := s.d.Engine.Index(r.Context(), chunk)
	if err != nil {
		s.retrievalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, indexResponse{ID: stored.ID, Indexed: true, Version: stored.Version})
}

func (s *Server) searchHandler(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, schema.Search, &req) {
		return
	}
	if req.Limit <= 0 {
		req.Limit = s.d.SearchLimit
	}
	results, err := s.d.Engine.Search(r.Context(), req.Query, req.UserContext, req.Limit)
	if err != nil {
		s.retrievalError(w, err)
		return
	}
	if results == nil {
		results = []retrieval.Result{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: req.Query, Results: results})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.d.Engine.Stats(r.Context())
	if err != nil {
		s.retrievalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) retrievalError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, retrieval.ErrRetrievalTimeout) {
		status = http.StatusGatewayTimeout
	}
	s.logger.Warn().Err(err).Msg("retrieval request failed")
	writeError(w, status, ErrorResponse{Error: err.Error()})
}

func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !s.decode(w, r, schema.Analyze, &req) {
		return
	}
	writeJSON(w, http.StatusOK, cognitive.Analyze(req.Query, req.Context))
}

func (s *Server) validateSolutionHandler(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !s.decode(w, r, schema.ValidateSolution, &req) {
		return
	}
	exam := cognitive.Examine(req.Solution, req.Problem, req.Context)
	writeJSON(w, http.StatusOK, validateResponse{Examination: exam, Overall: exam.Overall()})
}

func (s *Server) memoryStateHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "session_id query parameter is required"})
		return
	}
	st, err := s.d.Sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if st.Insights == nil {
		st.Insights = []memory.Insight{}
	}
	writeJSON(w, http.StatusOK, memoryResponse{SessionID: id, State: st})
}

func (s *Server) endSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "session_id query parameter is required"})
		return
	}
	if err := s.d.Sessions.End(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) consolidateHandler(w http.ResponseWriter, r *http.Request) {
	var req consolidateRequest
	if !s.decode(w, r, schema.Consolidate, &req) {
		return
	}
	st, err := s.d.Sessions.Consolidate(r.Context(), req.SessionID, req.Topic, req.Turn, req.Insights)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, memory.ErrStaleTurn) {
			status = http.StatusConflict
		}
		writeError(w, status, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, memoryResponse{SessionID: req.SessionID, State: st})
}

func (s *Server) templatesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": s.d.Templates.List()})
}

func (s *Server) invalidateHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Templates.Invalidate(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("template reload failed")
		writeError(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reloaded": true, "templates": len(s.d.Templates.List())})
}

type healthResponse struct {
	health.Report
	Uptime string `json:"uptime"`
}

// healthHandler reports component liveness. ?probe=providers also checks
// every provider endpoint.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	probe := r.URL.Query().Get("probe") == "providers"
	rep := s.d.Health.Run(r.Context(), probe)

	status := http.StatusOK
	if rep.Status == health.StatusDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{Report: rep, Uptime: time.Since(s.startTime).Round(time.Second).String()})
}
