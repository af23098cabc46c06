package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/tutor/internal/config"
	"github.com/jeanpaul/tutor/internal/embedding"
	"github.com/jeanpaul/tutor/internal/memory"
	"github.com/jeanpaul/tutor/internal/methodology"
	"github.com/jeanpaul/tutor/internal/metrics"
	"github.com/jeanpaul/tutor/internal/provider"
	"github.com/jeanpaul/tutor/internal/provider/providertest"
	"github.com/jeanpaul/tutor/internal/retrieval"
	"github.com/jeanpaul/tutor/internal/store"
	"github.com/jeanpaul/tutor/internal/types"
)

const wellFormed = `<reflection>Recursion splits a problem into a smaller copy of itself.</reflection>
<steps><step>Find the base case.</step><step>Reduce n towards it.</step></steps>
<correct_example>fat(3) = 3 * fat(2)</correct_example>
<incorrect_example>fat(n) = n * fat(n)<error>n never shrinks</error></incorrect_example>
<checklist><question>Does every call move towards the base case?</question></checklist>
<quiz><item>What is fat(0)?</item></quiz>
<final_code>func fat(n int) int {
	if n <= 1 {
		return 1
	}
	return n * fat(n-1)
}</final_code>`

type fixture struct {
	svc      *Service
	fakes    map[string]*providertest.Fake
	engine   *retrieval.Engine
	sessions *memory.Sessions
	store    *store.SQLiteStore
	metrics  *metrics.Metrics
}

type fixtureOption func(*Deps, *Options)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()

	fakes := map[string]*providertest.Fake{
		"anthropic": {ProviderName: "anthropic", ProviderKind: provider.KindAnthropic, Text: "answer from anthropic"},
		"openai":    {ProviderName: "openai", ProviderKind: provider.KindOpenAI, Text: "answer from openai"},
		"google":    {ProviderName: "google", ProviderKind: provider.KindGoogle, Text: "answer from google"},
		"ollama":    {ProviderName: "ollama", ProviderKind: provider.KindOllama, Text: "answer from ollama"},
	}
	var list []provider.Provider
	for _, f := range fakes {
		list = append(list, f)
	}

	cache, err := methodology.NewCache(context.Background(), methodology.EmbeddedSource{})
	require.NoError(t, err)

	rcfg := cfg.Retrieval
	rcfg.MinSimilarity = 0
	m := metrics.New(prometheus.NewRegistry())
	engine := retrieval.NewEngine(retrieval.NewMemoryIndex(), embedding.NewHashEmbedder(256), rcfg, zerolog.Nop(), m)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "tutor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sessions := memory.NewSessions(memory.NewMemoryStore(cfg.Memory.SessionTTL), memory.NewConsolidator(memory.LimitsFromConfig(cfg.Memory)), zerolog.Nop(), m)

	d := Deps{
		Resolver:  provider.NewResolver(cfg),
		Registry:  provider.NewRegistryFrom(cfg.FallbackProvider, list...),
		Composer:  methodology.NewComposer(cache, zerolog.Nop()),
		Retriever: engine,
		Sessions:  sessions,
		Turns:     st,
		Logger:    zerolog.Nop(),
		Metrics:   m,
	}
	o := OptionsFromConfig(cfg)
	for _, opt := range opts {
		opt(&d, &o)
	}
	return &fixture{svc: New(d, o), fakes: fakes, engine: engine, sessions: sessions, store: st, metrics: m}
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	chunks := []retrieval.ContentChunk{
		{ID: "rec-intro", Title: "Recursão", Body: "Recursão é quando uma função chama a si mesma. Toda recursão precisa de um caso base.", Difficulty: "beginner"},
		{ID: "rec-fat", Title: "Fatorial recursivo", Body: "O fatorial é o exemplo clássico de recursão. fatorial(n) chama fatorial(n-1).", Difficulty: "beginner"},
		{ID: "rec-tail", Title: "Recursão de cauda", Body: "Recursão de cauda permite otimizar a pilha de chamadas da recursão.", Difficulty: "advanced"},
	}
	for _, c := range chunks {
		_, err := f.engine.Index(context.Background(), c)
		require.NoError(t, err)
	}
}

func TestAsk_ClaudeIdentifierRoutesToAnthropic(t *testing.T) {
	f := newFixture(t)
	resp, err := f.svc.Ask(context.Background(), AskRequest{Methodology: "default", UserQuery: "o que é recursão?", Model: "claude-3-5-sonnet"})
	require.NoError(t, err)

	assert.Equal(t, "anthropic", resp.Metadata.Provider)
	assert.Equal(t, "answer from anthropic", resp.Response)
	assert.Equal(t, 1, f.fakes["anthropic"].Calls())
	assert.Equal(t, "claude-3-5-sonnet", f.fakes["anthropic"].Requests()[0].Model)
	assert.Empty(t, resp.Metadata.FallbackProvider)
}

func TestAsk_GPTIdentifierRoutesToOpenAI(t *testing.T) {
	f := newFixture(t)
	resp, err := f.svc.Ask(context.Background(), AskRequest{Methodology: "default", UserQuery: "o que é recursão?", Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Metadata.Provider)
	assert.Equal(t, 1, f.fakes["openai"].Calls())
	assert.Zero(t, f.fakes["anthropic"].Calls())
}

func TestAsk_UnknownIdentifierUsesDefaultProvider(t *testing.T) {
	f := newFixture(t)
	resp, err := f.svc.Ask(context.Background(), AskRequest{Methodology: "default", UserQuery: "o que é recursão?", Model: "totally-unknown-model"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", resp.Metadata.Provider)
	require.Equal(t, 1, f.fakes["ollama"].Calls())
	// an unrecognized identifier is not forwarded to the default provider
	assert.Empty(t, f.fakes["ollama"].Requests()[0].Model)
}

func TestAsk_BeginnerContextOnlyHasBeginnerChunks(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	results, err := f.engine.Search(context.Background(), "recursão", types.UserContext{DifficultyLevel: "beginner"}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for i, r := range results {
		assert.Equal(t, "beginner", r.Chunk.Difficulty)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Similarity, r.Similarity)
		}
	}

	_, err = f.svc.Ask(context.Background(), AskRequest{
		Methodology: "default",
		UserQuery:   "recursão",
		UserContext: UserContext{UserID: "u1", DifficultyLevel: "beginner"},
	})
	require.NoError(t, err)
	prompt := f.fakes["ollama"].Requests()[0].Prompt
	assert.Contains(t, prompt, "caso base")
	assert.NotContains(t, prompt, "cauda")
}

func TestAsk_BrokenWorkedExampleFallsBackToPlainText(t *testing.T) {
	f := newFixture(t)
	broken := "<reflection>Recursion...</reflection><steps><step>one</steps>"
	f.fakes["ollama"].Text = broken

	resp, err := f.svc.Ask(context.Background(), AskRequest{Methodology: "worked_examples", UserQuery: "implemente fatorial recursivo"})
	require.NoError(t, err)
	assert.False(t, resp.IsStructured)
	assert.Nil(t, resp.Structured)
	assert.Equal(t, broken, resp.Response)
	assert.Equal(t, methodology.WorkedExamples, resp.Methodology)
}

func TestAsk_WellFormedWorkedExample(t *testing.T) {
	f := newFixture(t)
	f.fakes["ollama"].Text = wellFormed

	resp, err := f.svc.Ask(context.Background(), AskRequest{Methodology: "worked-examples", UserQuery: "implemente fatorial recursivo"})
	require.NoError(t, err)
	require.True(t, resp.IsStructured)
	require.NotNil(t, resp.Structured)
	assert.Len(t, resp.Structured.Steps, 2)
	assert.Contains(t, resp.Metadata.SuggestedNextSteps, "Answer the quiz: What is fat(0)?")
	assert.Greater(t, resp.Metadata.Confidence, 0.0)
	assert.LessOrEqual(t, resp.Metadata.Confidence, 1.0)
}

func TestAsk_FallbackOnPrimaryFailure(t *testing.T) {
	f := newFixture(t)
	f.fakes["anthropic"].Err = errors.New("overloaded")

	resp, err := f.svc.Ask(context.Background(), AskRequest{Methodology: "default", UserQuery: "explique ponteiros", Model: "claude-3-5-sonnet"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", resp.Metadata.Provider)
	assert.Equal(t, "ollama", resp.Metadata.FallbackProvider)
	assert.Equal(t, 1, f.fakes["anthropic"].Calls())
	assert.Equal(t, 1, f.fakes["ollama"].Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Fallbacks.WithLabelValues("anthropic", "ollama")))
}

func TestAsk_ProviderUnavailable(t *testing.T) {
	f := newFixture(t)
	f.fakes["anthropic"].Err = errors.New("overloaded")
	f.fakes["ollama"].Err = errors.New("connection refused")

	_, err := f.svc.Ask(context.Background(), AskRequest{Methodology: "socratic", UserQuery: "explique ponteiros", Model: "claude-3-5-sonnet"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	var askErr *AskError
	require.True(t, errors.As(err, &askErr))
	assert.Equal(t, "socratic", askErr.Methodology)
	assert.Equal(t, PhaseGeneration, askErr.Phase)
	assert.Equal(t, 1, f.fakes["anthropic"].Calls())
	assert.Equal(t, 1, f.fakes["ollama"].Calls())
}

func TestAsk_TemplateNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ask(context.Background(), AskRequest{Methodology: "interpretive_dance", UserQuery: "q"})
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	var askErr *AskError
	require.True(t, errors.As(err, &askErr))
	assert.Equal(t, "interpretive_dance", askErr.Methodology)
	assert.Zero(t, f.fakes["ollama"].Calls())
}

func TestAsk_UnknownExplicitProvider(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ask(context.Background(), AskRequest{UserQuery: "q", Provider: "nope"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestAsk_EmptyQuery(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ask(context.Background(), AskRequest{UserQuery: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestAsk_SuggestedMethodologyWhenNoneGiven(t *testing.T) {
	f := newFixture(t)
	resp, err := f.svc.Ask(context.Background(), AskRequest{UserQuery: "meu código dá erro de stack overflow"})
	require.NoError(t, err)
	require.NotNil(t, resp.Metadata.Understanding)
	assert.Equal(t, resp.Metadata.Understanding.SuggestedMethodology, resp.Methodology)
	assert.Equal(t, methodology.Scaffolding, resp.Methodology)
}

type stuckRetriever struct{}

func (stuckRetriever) BuildContext(ctx context.Context, _ string, _ types.UserContext, _ int) (string, error) {
	return "", retrieval.ErrRetrievalTimeout
}

func TestAsk_RetrievalTimeoutDegrades(t *testing.T) {
	f := newFixture(t, func(d *Deps, _ *Options) { d.Retriever = stuckRetriever{} })

	resp, err := f.svc.Ask(context.Background(), AskRequest{Methodology: "default", UserQuery: "o que é recursão?"})
	require.NoError(t, err)
	assert.Equal(t, []string{PhaseRetrieval}, resp.Metadata.Degraded)
	assert.Equal(t, "answer from ollama", resp.Response)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DegradedSteps.WithLabelValues(PhaseRetrieval)))
}

// blockingProvider never answers before its context ends.
type blockingProvider struct{ name string }

func (b blockingProvider) Name() string        { return b.name }
func (b blockingProvider) Kind() provider.Kind { return provider.KindOllama }
func (b blockingProvider) Complete(ctx context.Context, _ provider.Request) (provider.Response, error) {
	<-ctx.Done()
	return provider.Response{}, ctx.Err()
}

func TestAsk_RequestTimeout(t *testing.T) {
	f := newFixture(t, func(d *Deps, o *Options) {
		d.Registry = provider.NewRegistryFrom("ollama", blockingProvider{name: "ollama"})
		o.RequestTimeout = 50 * time.Millisecond
	})

	start := time.Now()
	_, err := f.svc.Ask(context.Background(), AskRequest{Methodology: "default", UserQuery: "o que é recursão?"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAsk_SessionHistoryAndMemory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ask(ctx, AskRequest{Methodology: "default", UserQuery: "o que é recursão?", SessionID: "s1"})
	require.NoError(t, err)
	_, err = f.svc.Ask(ctx, AskRequest{Methodology: "default", UserQuery: "e o caso base?", SessionID: "s1"})
	require.NoError(t, err)

	turns, err := f.store.RecentTurns(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, types.RoleUser, turns[0].Role)
	assert.Equal(t, "e o caso base?", turns[2].Content)

	st, err := f.sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 4, st.LastConsolidatedTurn)

	reqs := f.fakes["ollama"].Requests()
	require.Len(t, reqs, 2)
	assert.NotContains(t, reqs[0].Prompt, "user: o que é recursão?")
	assert.Contains(t, reqs[1].Prompt, "user: o que é recursão?")
}

func TestAsk_SuppliedContextComesFirst(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	_, err := f.svc.Ask(context.Background(), AskRequest{Methodology: "default", UserQuery: "recursão", Context: "Aula 3: funções"})
	require.NoError(t, err)
	prompt := f.fakes["ollama"].Requests()[0].Prompt
	i := strings.Index(prompt, "Aula 3: funções")
	j := strings.Index(prompt, "## Core material")
	require.GreaterOrEqual(t, i, 0)
	if j >= 0 {
		assert.Less(t, i, j)
	}
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 0.5, confidence(nil, false, false, 0))
	assert.Equal(t, 0.35, confidence(nil, true, false, 0))
	assert.Equal(t, 0.0, confidence(nil, true, false, 9))
}

func TestRunConcurrently_RecoversPanics(t *testing.T) {
	out := runConcurrently(context.Background(), []task{
		{phase: "a", run: func(context.Context) error { return nil }},
		{phase: "b", run: func(context.Context) error { panic("boom") }},
		{phase: "c", run: func(context.Context) error { return errSkipped }},
	})
	require.Len(t, out, 3)
	assert.NoError(t, out[0].err)
	assert.ErrorContains(t, out[1].err, "panic in b")
	assert.True(t, out[2].skipped)
}
