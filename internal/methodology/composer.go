package methodology

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jeanpaul/tutor/internal/logging"
	"github.com/jeanpaul/tutor/internal/provider"
	"github.com/jeanpaul/tutor/internal/types"
)

// State is a step of one compose-generate-parse run.
type State int

const (
	StateTemplateLookup State = iota
	StatePlaceholderSubstitution
	StateGeneration
	StateParsing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateTemplateLookup:
		return "template_lookup"
	case StatePlaceholderSubstitution:
		return "placeholder_substitution"
	case StateGeneration:
		return "generation"
	case StateParsing:
		return "parsing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// maxHistoryTurns bounds how much transcript goes into a prompt. Older turns
// are represented by the memory summary.
const maxHistoryTurns = 10

// History is what the composer knows about the session so far.
type History struct {
	Turns   []types.ConversationTurn
	Summary string
}

// Input is everything one generation needs.
type Input struct {
	Methodology string
	Query       string
	Context     string
	User        types.UserContext
	History     History
	Model       string
	MaxTokens   int
	Temperature float64
}

// Result is the outcome of GenerateAndParse.
type Result struct {
	Methodology     string
	TemplateVersion int
	Prompt          string
	Raw             string
	Structured      *WorkedExample
	IsStructured    bool
	Response        provider.Response
	Trace           []State
}

// Composer fills templates and runs them against a provider. It keeps no
// state between calls.
type Composer struct {
	cache  *Cache
	logger zerolog.Logger
}

func NewComposer(cache *Cache, logger zerolog.Logger) *Composer {
	return &Composer{cache: cache, logger: logging.Component(logger, "methodology")}
}

// Compose returns the prompt for methodology with every placeholder filled.
// Unknown or empty placeholders become the empty string.
func (c *Composer) Compose(methodology, query, context string, uc types.UserContext, history History) (string, error) {
	t, err := c.cache.Active(methodology)
	if err != nil {
		return "", err
	}
	return Fill(t.TemplateText, Values(query, context, uc, history)), nil
}

// GenerateAndParse composes the prompt, calls p and parses the reply. For
// worked examples a malformed reply is not an error: IsStructured is false
// and Raw carries the text.
func (c *Composer) GenerateAndParse(ctx context.Context, p provider.Provider, in Input) (Result, error) {
	res := Result{Methodology: Normalize(in.Methodology)}
	fail := func(err error) (Result, error) {
		state := res.Trace[len(res.Trace)-1]
		res.Trace = append(res.Trace, StateFailed)
		return res, fmt.Errorf("%s: %w", state, err)
	}

	res.Trace = append(res.Trace, StateTemplateLookup)
	t, err := c.cache.Active(res.Methodology)
	if err != nil {
		return fail(err)
	}
	res.TemplateVersion = t.Version

	res.Trace = append(res.Trace, StatePlaceholderSubstitution)
	res.Prompt = Fill(t.TemplateText, Values(in.Query, in.Context, in.User, in.History))

	res.Trace = append(res.Trace, StateGeneration)
	resp, err := p.Complete(ctx, provider.Request{
		Model:       in.Model,
		Prompt:      res.Prompt,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
	})
	if err != nil {
		return fail(err)
	}
	res.Response = resp
	res.Raw = resp.Text

	res.Trace = append(res.Trace, StateParsing)
	if IsStructured(res.Methodology) {
		if we, ok := ParseWorkedExample(resp.Text); ok {
			res.Structured = we
			res.IsStructured = true
		} else {
			c.logger.Warn().
				Str("methodology", res.Methodology).
				Int("template_version", t.Version).
				Msg("structured response malformed, returning plain text")
		}
	}

	res.Trace = append(res.Trace, StateDone)
	return res, nil
}

// Values maps placeholder names to their substitutions.
func Values(query, context string, uc types.UserContext, history History) map[string]string {
	return map[string]string{
		"user_query":            query,
		"context":               context,
		"user_id":               uc.UserID,
		"current_topic":         uc.CurrentTopic,
		"difficulty_level":      uc.DifficultyLevel,
		"learning_progress":     uc.LearningProgress,
		"conversation_history":  renderHistory(history.Turns),
		"previous_interactions": renderList(uc.PreviousInteractions),
		"memory_summary":        history.Summary,
	}
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// Fill substitutes {{name}} placeholders. Names missing from values are
// replaced with "".
func Fill(text string, values map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		return values[strings.ToLower(name)]
	})
}

func renderHistory(turns []types.ConversationTurn) string {
	if len(turns) > maxHistoryTurns {
		turns = turns[len(turns)-maxHistoryTurns:]
	}
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", t.Role, strings.TrimSpace(t.Content))
	}
	return b.String()
}

func renderList(items []string) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(it))
	}
	return b.String()
}
