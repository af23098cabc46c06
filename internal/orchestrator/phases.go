package orchestrator

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeanpaul/tutor/internal/cognitive"
	"github.com/jeanpaul/tutor/internal/methodology"
	"github.com/jeanpaul/tutor/internal/retrieval"
	"github.com/jeanpaul/tutor/internal/types"
)

// memoryTimeout bounds consolidation after the answer exists. It runs
// detached from the request deadline so a slow generation does not lose
// the turn.
const memoryTimeout = 5 * time.Second

// gather runs analysis, retrieval and history loading concurrently. None of
// them can fail the request.
func (s *Service) gather(ctx context.Context, st *RequestState, req AskRequest, log zerolog.Logger) gathered {
	var g gathered
	var retrieved string

	budget := req.TokenBudget
	if budget <= 0 {
		budget = s.opts.TokenBudget
	}
	supplied := strings.TrimSpace(req.Context)
	if supplied != "" {
		budget -= retrieval.EstimateTokens(supplied) + 1
	}

	tasks := []task{
		{phase: PhaseAnalysis, run: func(context.Context) error {
			u := cognitive.Analyze(req.UserQuery, supplied)
			g.understanding = &u
			return nil
		}},
		{phase: PhaseRetrieval, run: func(ctx context.Context) error {
			if s.d.Retriever == nil || budget <= 0 {
				return errSkipped
			}
			text, err := s.d.Retriever.BuildContext(ctx, req.UserQuery, req.UserContext, budget)
			retrieved = text
			return err
		}},
		{phase: PhaseHistory, run: func(ctx context.Context) error {
			if req.SessionID == "" || (s.d.Turns == nil && s.d.Sessions == nil) {
				return errSkipped
			}
			var errs []error
			if s.d.Turns != nil {
				turns, err := s.d.Turns.RecentTurns(ctx, req.SessionID, historyTurns)
				errs = append(errs, err)
				g.history.Turns = turns
			}
			if s.d.Sessions != nil {
				mem, err := s.d.Sessions.Get(ctx, req.SessionID)
				errs = append(errs, err)
				g.history.Summary = mem.CompactSummary
			}
			return errors.Join(errs...)
		}},
	}

	for _, o := range runConcurrently(ctx, tasks) {
		switch {
		case o.skipped:
			st.Record(o.phase, "skipped", o.start, nil)
		case o.err != nil:
			if o.phase == PhaseRetrieval {
				// a timed-out or failed search contributes no context
				retrieved = ""
			}
			s.degrade(st, o.phase, o.start, o.err, log)
		default:
			st.Record(o.phase, "ok", o.start, nil)
		}
	}

	switch {
	case supplied != "" && retrieved != "":
		g.context = supplied + "\n\n" + retrieved
	case supplied != "":
		g.context = supplied
	default:
		g.context = retrieved
	}
	return g
}

// examine scores the answer. Structured answers are judged on their final
// code, plain ones on the whole text.
func (s *Service) examine(st *RequestState, req AskRequest, g gathered, res methodology.Result, log zerolog.Logger) (exam *cognitive.Examination) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			exam = nil
			s.degrade(st, PhaseExamination, start, errors.New("examination panicked"), log)
		}
	}()

	solution := res.Raw
	if res.Structured != nil {
		solution = res.Structured.FinalCode
	}
	e := cognitive.Examine(solution, req.UserQuery, g.context)
	st.Record(PhaseExamination, "ok", start, nil)
	return &e
}

// remember appends the exchange to the transcript and folds it into the
// session memory.
func (s *Service) remember(ctx context.Context, st *RequestState, req AskRequest, g gathered, res methodology.Result, log zerolog.Logger) {
	start := time.Now()
	if req.SessionID == "" || (s.d.Turns == nil && s.d.Sessions == nil) {
		st.Record(PhaseMemory, "skipped", start, nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), memoryTimeout)
	defer cancel()

	var errs []error
	if s.d.Turns != nil {
		if _, err := s.d.Turns.AppendTurn(ctx, req.SessionID, types.RoleUser, req.UserQuery, res.Methodology); err != nil {
			errs = append(errs, err)
		} else if _, err := s.d.Turns.AppendTurn(ctx, req.SessionID, types.RoleAssistant, res.Raw, res.Methodology); err != nil {
			errs = append(errs, err)
		}
	}
	if s.d.Sessions != nil {
		_, err := s.d.Sessions.Append(ctx, req.SessionID, sessionTopic(req.UserContext, g.understanding),
			types.ConversationTurn{Role: types.RoleUser, Content: req.UserQuery},
			types.ConversationTurn{Role: types.RoleAssistant, Content: res.Raw},
		)
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		s.degrade(st, PhaseMemory, start, err, log)
		return
	}
	st.Record(PhaseMemory, "ok", start, nil)
}

// sessionTopic is the learner's declared topic, else the analyzer's key
// concepts. Empty keeps the session's current topic.
func sessionTopic(uc types.UserContext, u *cognitive.Understanding) string {
	if uc.CurrentTopic != "" {
		return uc.CurrentTopic
	}
	if u != nil && len(u.KeyConcepts) > 0 {
		return strings.Join(u.KeyConcepts, " ")
	}
	return ""
}

// confidence starts from the examination score and is lowered for a
// structured answer that failed to parse and for every degraded step.
func confidence(exam *cognitive.Examination, wantStructured, isStructured bool, degraded int) float64 {
	c := 0.5
	if exam != nil {
		c = exam.Overall()
	}
	if wantStructured && !isStructured {
		c -= 0.15
	}
	c -= 0.1 * float64(degraded)
	c = math.Max(0, math.Min(1, c))
	return math.Round(c*100) / 100
}

const maxNextSteps = 5

func nextSteps(u *cognitive.Understanding, exam *cognitive.Examination, we *methodology.WorkedExample) []string {
	steps := []string{}
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] && len(steps) < maxNextSteps {
			seen[s] = true
			steps = append(steps, s)
		}
	}

	if u != nil {
		for i, p := range u.Prerequisites {
			if i == 2 {
				break
			}
			add("Review " + p + " before moving on")
		}
	}
	if we != nil {
		if len(we.Quiz) > 0 {
			add("Answer the quiz: " + we.Quiz[0])
		}
		if len(we.Checklist) > 0 {
			add("Check yourself: " + we.Checklist[0])
		}
	}
	if exam != nil {
		for _, sug := range exam.Suggestions {
			add(sug)
		}
	}
	if u != nil && len(u.KeyConcepts) > 0 {
		add("Practice an exercise on " + u.KeyConcepts[0])
	}
	return steps
}
