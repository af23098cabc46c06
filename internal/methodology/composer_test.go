package methodology

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/tutor/internal/provider/providertest"
	"github.com/jeanpaul/tutor/internal/types"
)

type staticSource []PromptTemplate

func (s staticSource) LoadTemplates(context.Context) ([]PromptTemplate, error) { return s, nil }

func newTestComposer(t *testing.T, src TemplateSource) *Composer {
	t.Helper()
	cache, err := NewCache(context.Background(), src)
	require.NoError(t, err)
	return NewComposer(cache, zerolog.Nop())
}

func TestCompose_FillsPlaceholders(t *testing.T) {
	c := newTestComposer(t, staticSource{{
		Methodology:  Default,
		Version:      1,
		IsActive:     true,
		TemplateText: "Q={{user_query}} C={{context}} U={{ user_id }} T={{current_topic}} D={{difficulty_level}} P={{learning_progress}} H={{conversation_history}} I={{previous_interactions}} M={{memory_summary}} X={{unknown}}",
	}})

	uc := types.UserContext{
		UserID:               "u1",
		CurrentTopic:         "recursão",
		DifficultyLevel:      "beginner",
		LearningProgress:     "week 2",
		PreviousInteractions: []string{"o que é pilha?"},
	}
	h := History{
		Turns:   []types.ConversationTurn{{Role: types.RoleUser, Content: "oi", Order: 1}, {Role: types.RoleAssistant, Content: "olá", Order: 2}},
		Summary: "gosta de exemplos",
	}

	got, err := c.Compose("default", "o que é recursão?", "ctx", uc, h)
	require.NoError(t, err)
	assert.Equal(t, "Q=o que é recursão? C=ctx U=u1 T=recursão D=beginner P=week 2 H=user: oi\nassistant: olá I=- o que é pilha? M=gosta de exemplos X=", got)
}

func TestCompose_Idempotent(t *testing.T) {
	c := newTestComposer(t, EmbeddedSource{})
	uc := types.UserContext{UserID: "u", DifficultyLevel: "beginner"}
	h := History{Turns: []types.ConversationTurn{{Role: types.RoleUser, Content: "a", Order: 1}}}

	for _, m := range Known {
		first, err := c.Compose(m, "q", "context", uc, h)
		require.NoError(t, err, m)
		for i := 0; i < 3; i++ {
			again, err := c.Compose(m, "q", "context", uc, h)
			require.NoError(t, err)
			assert.Equal(t, first, again, m)
		}
		assert.NotContains(t, first, "{{", "unresolved placeholder in %s", m)
	}
}

func TestCompose_TemplateNotFound(t *testing.T) {
	c := newTestComposer(t, staticSource{{Methodology: Analogy, Version: 1, IsActive: false, TemplateText: "x"}})
	_, err := c.Compose(Analogy, "q", "", types.UserContext{}, History{})
	assert.True(t, errors.Is(err, ErrTemplateNotFound))
}

func TestCompose_HistoryIsBounded(t *testing.T) {
	var turns []types.ConversationTurn
	for i := 1; i <= 30; i++ {
		turns = append(turns, types.ConversationTurn{Role: types.RoleUser, Content: "msg", Order: i})
	}
	out := renderHistory(turns)
	assert.Equal(t, maxHistoryTurns, len(splitLines(out)))
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func TestGenerateAndParse_Structured(t *testing.T) {
	c := newTestComposer(t, EmbeddedSource{})
	p := &providertest.Fake{ProviderName: "fake", Text: wellFormed}

	res, err := c.GenerateAndParse(context.Background(), p, Input{Methodology: WorkedExamples, Query: "fatorial"})
	require.NoError(t, err)
	assert.True(t, res.IsStructured)
	require.NotNil(t, res.Structured)
	assert.Len(t, res.Structured.Steps, 3)
	assert.Equal(t, []State{StateTemplateLookup, StatePlaceholderSubstitution, StateGeneration, StateParsing, StateDone}, res.Trace)
	assert.Equal(t, 1, res.TemplateVersion)
	assert.Contains(t, p.Requests()[0].Prompt, "fatorial")
}

func TestGenerateAndParse_MalformedFallsBackToText(t *testing.T) {
	c := newTestComposer(t, EmbeddedSource{})
	raw := "<reflection>half an answer<steps><step>oops"
	p := &providertest.Fake{ProviderName: "fake", Text: raw}

	res, err := c.GenerateAndParse(context.Background(), p, Input{Methodology: WorkedExamples, Query: "q"})
	require.NoError(t, err)
	assert.False(t, res.IsStructured)
	assert.Nil(t, res.Structured)
	assert.Equal(t, raw, res.Raw)
}

func TestGenerateAndParse_PlainMethodologyIgnoresTags(t *testing.T) {
	c := newTestComposer(t, EmbeddedSource{})
	p := &providertest.Fake{ProviderName: "fake", Text: wellFormed}

	res, err := c.GenerateAndParse(context.Background(), p, Input{Methodology: Socratic, Query: "q"})
	require.NoError(t, err)
	assert.False(t, res.IsStructured)
	assert.Equal(t, wellFormed, res.Raw)
}

func TestGenerateAndParse_Failures(t *testing.T) {
	c := newTestComposer(t, EmbeddedSource{})

	res, err := c.GenerateAndParse(context.Background(), &providertest.Fake{ProviderName: "fake"}, Input{Methodology: "mindmap"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTemplateNotFound))
	assert.Equal(t, []State{StateTemplateLookup, StateFailed}, res.Trace)

	boom := errors.New("boom")
	res, err = c.GenerateAndParse(context.Background(), &providertest.Fake{ProviderName: "fake", Err: boom}, Input{Methodology: Default})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, StateFailed, res.Trace[len(res.Trace)-1])
	assert.Equal(t, StateGeneration, res.Trace[len(res.Trace)-2])
}
