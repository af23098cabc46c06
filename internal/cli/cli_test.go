package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeanpaul/tutor/internal/config"
	"github.com/jeanpaul/tutor/internal/embedding"
	"github.com/jeanpaul/tutor/internal/health"
	"github.com/jeanpaul/tutor/internal/ingest"
	"github.com/jeanpaul/tutor/internal/methodology"
	"github.com/jeanpaul/tutor/internal/orchestrator"
	"github.com/jeanpaul/tutor/internal/retrieval"
	"github.com/jeanpaul/tutor/internal/types"
)

func TestAnswerMarkdown_Structured(t *testing.T) {
	resp := &orchestrator.AskResponse{
		Methodology:  methodology.WorkedExamples,
		IsStructured: true,
		Structured: &methodology.WorkedExample{
			Reflection:       "Think about the base case.",
			Steps:            []string{"Define the base case", "Recurse on n-1"},
			CorrectExample:   "fact(3) = 3 * fact(2)",
			IncorrectExample: &methodology.IncorrectExample{Example: "fact(n) = n * fact(n)", Error: "never terminates"},
			Quiz:             []string{"What is fact(0)?"},
			FinalCode:        "def fact(n):\n    return 1 if n == 0 else n * fact(n-1)",
		},
	}

	md := answerMarkdown(resp)
	assert.Contains(t, md, "## Reflection\n\nThink about the base case.")
	assert.Contains(t, md, "1. Define the base case\n2. Recurse on n-1")
	assert.Contains(t, md, "## Common mistake\n\nfact(n) = n * fact(n)\n\nnever terminates")
	assert.Contains(t, md, "```\ndef fact(n):")
	assert.NotContains(t, md, "## Checklist")
}

func TestAnswerMarkdown_Unstructured(t *testing.T) {
	resp := &orchestrator.AskResponse{Response: "plain *markdown* answer"}
	assert.Equal(t, "plain *markdown* answer", answerMarkdown(resp))
}

func TestCodeFence(t *testing.T) {
	assert.Equal(t, "", codeFence("  "))
	assert.Equal(t, "```go\nx := 1\n```", codeFence("```go\nx := 1\n```"))
	assert.Equal(t, "```\nx := 1\n```", codeFence("x := 1"))
}

func TestFormatMetadata(t *testing.T) {
	resp := &orchestrator.AskResponse{
		Methodology: methodology.WorkedExamples,
		Metadata: orchestrator.Metadata{
			SessionID:          "s-1",
			Provider:           "ollama",
			Model:              "qwen2.5:7b",
			FallbackProvider:   "anthropic",
			TemplateVersion:    2,
			Confidence:         0.42,
			Degraded:           []string{"retrieval"},
			SuggestedNextSteps: []string{"Practice an exercise on recursion"},
		},
	}

	out := formatMetadata(resp)
	for _, want := range []string{
		"worked_examples (v2)",
		"ollama / qwen2.5:7b",
		"0.42",
		"fell back from anthropic",
		"could not be parsed",
		"degraded: retrieval",
		"> Practice an exercise on recursion",
		"session s-1",
	} {
		assert.Contains(t, out, want)
	}
}

func TestFormatResultAndSnippet(t *testing.T) {
	out := formatResult(1, retrieval.Result{
		Similarity: 0.8123,
		Chunk: retrieval.ContentChunk{
			ID: "rec#0", Title: "Recursion", Body: "A  function\n that calls itself.",
			Subject: "programming", Difficulty: "beginner",
		},
	})
	assert.Contains(t, out, "1. ")
	assert.Contains(t, out, "Recursion")
	assert.Contains(t, out, "0.812")
	assert.Contains(t, out, "programming · beginner")
	assert.Contains(t, out, "A function that calls itself.")

	assert.Equal(t, "abc…", snippet("abcdef", 3))
	assert.Equal(t, "ção", snippet("ção", 3))
}

func TestJoinNonEmpty(t *testing.T) {
	assert.Equal(t, "a / c", joinNonEmpty(" / ", "a", "", "c"))
	assert.Equal(t, "", joinNonEmpty(", "))
}

func TestLookupTemplate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, config.SaveTemplateFile(dir, config.TemplateFile{
		Methodology: "socratic", Version: 2, Active: true, Template: "Ask: {{user_query}}",
	}))
	cache, err := methodology.NewCache(context.Background(), methodology.LayeredSource{
		methodology.EmbeddedSource{}, methodology.DirSource{Dir: dir},
	})
	require.NoError(t, err)

	active, err := lookupTemplate(cache, "Socratic", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)

	v2, err := lookupTemplate(cache, "socratic", []string{"v2"})
	require.NoError(t, err)
	assert.Equal(t, active.TemplateText, v2.TemplateText)

	_, err = lookupTemplate(cache, "socratic", []string{"9"})
	assert.True(t, errors.Is(err, methodology.ErrTemplateNotFound))

	_, err = lookupTemplate(cache, "socratic", []string{"two"})
	assert.Error(t, err)
}

func TestNextTemplateFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, config.SaveTemplateFile(dir, config.TemplateFile{
		Methodology: "socratic", Version: 3, Active: true, Description: "tuned", Template: "Ask: {{user_query}}",
	}))
	cache, err := methodology.NewCache(context.Background(), methodology.LayeredSource{
		methodology.EmbeddedSource{}, methodology.DirSource{Dir: dir},
	})
	require.NoError(t, err)

	tf, err := nextTemplateFile(cache, "socratic")
	require.NoError(t, err)
	assert.Equal(t, "socratic-v4", tf.Name)
	assert.Equal(t, 4, tf.Version)
	assert.False(t, tf.Active)
	assert.Equal(t, "tuned", tf.Description)
	assert.Equal(t, "Ask: {{user_query}}", tf.Template)

	_, err = nextTemplateFile(cache, "unknown")
	assert.Error(t, err)
}

func TestColorDiff(t *testing.T) {
	a := methodology.PromptTemplate{Methodology: "socratic", Version: 1, TemplateText: "line one\nline two\n"}
	b := methodology.PromptTemplate{Methodology: "socratic", Version: 2, TemplateText: "line one\nline 2\n"}

	out := colorDiff(methodology.DiffTemplates(a, b))
	assert.Contains(t, out, "--- socratic.v1")
	assert.Contains(t, out, "+++ socratic.v2")
	assert.Contains(t, out, "-line two")
	assert.Contains(t, out, "+line 2")

	assert.Contains(t, colorDiff(""), "no differences")
}

func TestFormatReport(t *testing.T) {
	out := formatReport(health.Report{
		Status: health.StatusDegraded,
		Providers: []health.Status{
			{Provider: "ollama", Reachable: true, Models: []string{"a", "b"}},
			{Provider: "anthropic", Error: "API key not set"},
			{Provider: "google", Error: "connection refused"},
		},
		Components: []health.Component{{Name: "store", OK: true}, {Name: "memory", Error: "dial tcp"}},
	}, "anthropic", "ollama")

	assert.Contains(t, out, "ollama (fallback)")
	assert.Contains(t, out, "(2 models)")
	assert.Contains(t, out, "anthropic (default)")
	assert.Contains(t, out, "✗ API key not set")
	assert.Contains(t, out, "- connection refused (optional)")
	assert.Contains(t, out, "✗ dial tcp")
	assert.Contains(t, out, "Degraded")
}

func TestIndexSources(t *testing.T) {
	dir := t.TempDir()
	lesson := `# Recursion

A recursive function calls itself until it reaches a base case.

## Base case

The base case stops the recursion and prevents a stack overflow.
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recursion.md"), []byte(lesson), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "loops.txt"), []byte("A loop repeats a block of statements while a condition holds true."), 0o644))

	cfg := config.DefaultConfig().Retrieval
	cfg.MinSimilarity = 0
	engine := retrieval.NewEngine(retrieval.NewMemoryIndex(), embedding.NewHashEmbedder(256), cfg, zerolog.Nop(), nil)

	var mu sync.Mutex
	seen := map[string]int{}
	n, err := indexSources(context.Background(), engine, []string{dir}, ingest.Meta{Subject: "programming"}, ingest.Options{}, 2,
		func(src string, chunks int) {
			mu.Lock()
			seen[filepath.Base(src)] = chunks
			mu.Unlock()
		})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, map[string]int{"recursion.md": 2, "loops.txt": 1}, seen)

	stats, err := engine.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, 3, stats.BySubject["programming"])

	results, err := engine.Search(context.Background(), "base case recursion", types.UserContext{UserID: "u"}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, strings.HasPrefix(results[0].Chunk.ID, ingest.Slug(filepath.Join(dir, "recursion.md"))))
}

func TestIndexSources_MissingPath(t *testing.T) {
	engine := retrieval.NewEngine(retrieval.NewMemoryIndex(), embedding.NewHashEmbedder(64), config.DefaultConfig().Retrieval, zerolog.Nop(), nil)
	_, err := indexSources(context.Background(), engine, []string{filepath.Join(t.TempDir(), "missing.md")}, ingest.Meta{}, ingest.Options{}, 1, nil)
	assert.Error(t, err)
}

func TestLocalModels(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers["lab"] = config.ProviderConfig{Type: "ollama", BaseURL: "http://gpu:11434/v1", Model: "llama3.1:8b"}
	cfg.Embedding = config.EmbeddingConfig{Provider: "ollama"}

	got := localModels(cfg)
	assert.Equal(t, []localModel{
		{Role: "embedding", Name: "nomic-embed-text"},
		{Role: "provider lab", BaseURL: "http://gpu:11434/v1", Name: "llama3.1:8b"},
		{Role: "provider ollama", BaseURL: "http://localhost:11434", Name: "qwen2.5:7b"},
	}, got)

	cfg = config.DefaultConfig()
	delete(cfg.Providers, "ollama")
	assert.Empty(t, localModels(cfg))
}
