// Package orchestrator sequences one learner question through analysis,
// retrieval, prompt composition, generation with fallback, examination and
// memory consolidation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeanpaul/tutor/internal/cognitive"
	"github.com/jeanpaul/tutor/internal/config"
	"github.com/jeanpaul/tutor/internal/logging"
	"github.com/jeanpaul/tutor/internal/memory"
	"github.com/jeanpaul/tutor/internal/methodology"
	"github.com/jeanpaul/tutor/internal/metrics"
	"github.com/jeanpaul/tutor/internal/provider"
	"github.com/jeanpaul/tutor/internal/store"
	"github.com/jeanpaul/tutor/internal/types"
)

// UserContext is the learner profile sent with a request.
type UserContext = types.UserContext

// historyTurns is how many persisted turns are loaded for the prompt.
const historyTurns = 10

var ErrEmptyQuery = errors.New("user_query is required")

// Retriever builds the context block for a query.
type Retriever interface {
	BuildContext(ctx context.Context, query string, uc types.UserContext, budget int) (string, error)
}

// TurnLog persists the conversation transcript.
type TurnLog interface {
	AppendTurn(ctx context.Context, sessionID string, role types.Role, content, methodology string) (store.Turn, error)
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]types.ConversationTurn, error)
}

// AskRequest is one learner question.
type AskRequest struct {
	Methodology string      `json:"methodology,omitempty"`
	UserQuery   string      `json:"user_query"`
	Context     string      `json:"context,omitempty"`
	UserContext UserContext `json:"user_context"`
	SessionID   string      `json:"session_id,omitempty"`
	Model       string      `json:"model,omitempty"`
	Provider    string      `json:"provider,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	TokenBudget int         `json:"token_budget,omitempty"`
}

// Metadata describes how an answer was produced.
type Metadata struct {
	RequestID          string                   `json:"request_id"`
	SessionID          string                   `json:"session_id,omitempty"`
	ProcessingTime     float64                  `json:"processing_time"`
	Confidence         float64                  `json:"confidence"`
	SuggestedNextSteps []string                 `json:"suggested_next_steps"`
	Provider           string                   `json:"provider"`
	Model              string                   `json:"model,omitempty"`
	FallbackProvider   string                   `json:"fallback_provider,omitempty"`
	TemplateVersion    int                      `json:"template_version"`
	Degraded           []string                 `json:"degraded,omitempty"`
	Understanding      *cognitive.Understanding `json:"understanding,omitempty"`
	Phases             []PhaseRecord            `json:"phases,omitempty"`
}

// AskResponse is the answer returned to the learner.
type AskResponse struct {
	Response     string                     `json:"response"`
	Methodology  string                     `json:"methodology"`
	IsStructured bool                       `json:"is_structured"`
	Structured   *methodology.WorkedExample `json:"structured,omitempty"`
	Metadata     Metadata                   `json:"metadata"`
}

// Options are the request defaults.
type Options struct {
	RequestTimeout time.Duration
	TokenBudget    int
	DefaultModel   string
	MaxTokens      int
	Temperature    float64
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RequestTimeout: cfg.RequestTimeout,
		TokenBudget:    cfg.Retrieval.TokenBudget,
		DefaultModel:   cfg.DefaultModel,
		MaxTokens:      2048,
		Temperature:    0.3,
	}
}

// Deps are the collaborators of a Service. Retriever, Sessions and Turns
// may be nil; the matching phases are then skipped.
type Deps struct {
	Resolver  *provider.Resolver
	Registry  *provider.Registry
	Composer  *methodology.Composer
	Retriever Retriever
	Sessions  *memory.Sessions
	Turns     TurnLog
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// Service answers questions. Each call to Ask is independent; the service
// holds only read-only collaborators.
type Service struct {
	d      Deps
	opts   Options
	logger zerolog.Logger
}

func New(d Deps, opts Options) *Service {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.TokenBudget <= 0 {
		opts.TokenBudget = 1500
	}
	return &Service{d: d, opts: opts, logger: logging.Component(d.Logger, "orchestrator")}
}

// gathered is what the concurrent first step produced.
type gathered struct {
	understanding *cognitive.Understanding
	context       string
	history       methodology.History
}

// Ask runs the whole pipeline under the request timeout. Analysis,
// retrieval, examination and memory failures degrade the answer; provider,
// template and timeout failures are returned as *AskError.
func (s *Service) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	started := time.Now()
	st := NewRequestState(req.UserQuery, req.SessionID)
	log := s.logger.With().Str("request_id", st.RequestID).Logger()

	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	fail := func(meth, phase string, err error) (*AskResponse, error) {
		st.AddError(phase, err)
		log.Error().Err(err).Str("methodology", meth).Str("phase", phase).Msg("ask failed")
		return nil, &AskError{Methodology: meth, Phase: phase, Err: err}
	}

	req.UserQuery = strings.TrimSpace(req.UserQuery)
	if req.UserQuery == "" {
		return fail(methodology.Normalize(req.Methodology), PhaseInit, ErrEmptyQuery)
	}

	g := s.gather(ctx, st, req, log)
	if err := ctx.Err(); err != nil {
		return fail(chooseMethodology(req.Methodology, g.understanding), PhaseRetrieval, classify(ctx, err))
	}

	st.SetPhase(PhaseMethodology)
	meth := chooseMethodology(req.Methodology, g.understanding)
	st.Methodology = meth

	st.SetPhase(PhaseRouting)
	model := req.Model
	if model == "" {
		model = s.opts.DefaultModel
	}
	route, err := s.d.Resolver.Resolve(model, req.Provider)
	if err != nil {
		return fail(meth, PhaseRouting, err)
	}
	primary, ok := s.d.Registry.Get(route.Provider)
	if !ok {
		return fail(meth, PhaseRouting, fmt.Errorf("%w: %q is not configured", ErrUnknownProvider, route.Provider))
	}
	p := provider.WithFallback(primary, s.d.Registry.Fallback(), log, s.d.Metrics)

	st.SetPhase(PhaseGeneration)
	genStart := time.Now()
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.opts.MaxTokens
	}
	res, err := s.d.Composer.GenerateAndParse(ctx, p, methodology.Input{
		Methodology: meth,
		Query:       req.UserQuery,
		Context:     g.context,
		User:        req.UserContext,
		History:     g.history,
		Model:       route.RequestModel(),
		MaxTokens:   maxTokens,
		Temperature: s.opts.Temperature,
	})
	if err != nil {
		st.Record(PhaseGeneration, "failed", genStart, err)
		return fail(meth, PhaseGeneration, classify(ctx, err))
	}
	st.Record(PhaseGeneration, "ok", genStart, nil)
	st.AddTokens(res.Response.Usage.TotalTokens)
	if s.d.Metrics != nil {
		s.d.Metrics.GenerationLatency.WithLabelValues(res.Response.Provider).Observe(res.Response.Duration.Seconds())
	}

	st.SetPhase(PhaseExamination)
	exam := s.examine(st, req, g, res, log)

	st.SetPhase(PhaseMemory)
	s.remember(ctx, st, req, g, res, log)

	st.SetPhase(PhaseDone)
	resp := &AskResponse{
		Response:     res.Raw,
		Methodology:  res.Methodology,
		IsStructured: res.IsStructured,
		Structured:   res.Structured,
		Metadata: Metadata{
			RequestID:          st.RequestID,
			SessionID:          req.SessionID,
			ProcessingTime:     time.Since(started).Seconds(),
			Confidence:         confidence(exam, methodology.IsStructured(res.Methodology), res.IsStructured, len(st.Degraded)),
			SuggestedNextSteps: nextSteps(g.understanding, exam, res.Structured),
			Provider:           res.Response.Provider,
			Model:              res.Response.Model,
			FallbackProvider:   fallbackName(res.Response),
			TemplateVersion:    res.TemplateVersion,
			Degraded:           st.Degraded,
			Understanding:      g.understanding,
			Phases:             st.Phases,
		},
	}

	log.Info().
		Str("methodology", resp.Methodology).
		Str("provider", resp.Metadata.Provider).
		Str("fallback", resp.Metadata.FallbackProvider).
		Bool("structured", resp.IsStructured).
		Strs("degraded", st.Degraded).
		Dur("elapsed", time.Since(started)).
		Msg("ask completed")
	return resp, nil
}

func fallbackName(r provider.Response) string {
	if r.FallbackFrom == "" {
		return ""
	}
	return r.Provider
}

// chooseMethodology prefers the caller's choice, then the analyzer's.
func chooseMethodology(requested string, u *cognitive.Understanding) string {
	if strings.TrimSpace(requested) != "" {
		return methodology.Normalize(requested)
	}
	if u != nil && u.SuggestedMethodology != "" {
		return u.SuggestedMethodology
	}
	return methodology.Default
}

// degrade records a non-fatal phase failure.
func (s *Service) degrade(st *RequestState, phase string, start time.Time, err error, log zerolog.Logger) {
	st.Degrade(phase, start, err)
	if s.d.Metrics != nil {
		s.d.Metrics.DegradedSteps.WithLabelValues(phase).Inc()
	}
	log.Warn().Err(err).Str("phase", phase).Msg("step degraded")
}
