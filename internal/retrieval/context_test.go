package retrieval

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func res(id, body string, sim float64) Result {
	return Result{Chunk: ContentChunk{ID: id, Title: id, Body: body, IndexedAt: time.Unix(0, 0)}, Similarity: sim}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 2, EstimateTokens("recursão"), "counts runes, not bytes")
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("Primeira frase. Segunda!  Terceira?\nQuarta sem ponto")
	assert.Equal(t, []string{"Primeira frase.", "Segunda!", "Terceira?", "Quarta sem ponto"}, got)
}

func TestAssemble_IsolatesCoreAndSupporting(t *testing.T) {
	results := []Result{
		res("core", "Recursão resolve problemas dividindo-os em subproblemas menores.", 0.9),
		res("side", "Pilhas guardam chamadas de função.", 0.1),
	}
	out := Assemble("recursão", results, 500, AssembleOptions{})

	coreAt := strings.Index(out, "## Core material")
	sideAt := strings.Index(out, "## Supporting material")
	require.GreaterOrEqual(t, coreAt, 0)
	require.Greater(t, sideAt, coreAt)
	assert.Contains(t, out[coreAt:sideAt], "subproblemas")
	assert.Contains(t, out[sideAt:], "Pilhas")
}

func TestAssemble_DropsRedundantSentences(t *testing.T) {
	results := []Result{
		res("a", "Uma função recursiva chama a si mesma.", 0.9),
		res("b", "Uma função recursiva chama a si mesma. O caso base encerra a recursão.", 0.8),
	}
	out := Assemble("função recursiva", results, 500, AssembleOptions{RedundancyThreshold: 0.8})
	assert.Equal(t, 1, strings.Count(out, "Uma função recursiva chama a si mesma."))
	assert.Contains(t, out, "O caso base encerra a recursão.")
}

func TestAssemble_KeepsMostRelevantSentences(t *testing.T) {
	body := "Introdução geral ao curso. Recursão usa caso base. Datas de entrega no fim. Outra nota administrativa."
	out := Assemble("recursão caso base", []Result{res("a", body, 0.9)}, 500, AssembleOptions{MaxSentences: 1})
	assert.Contains(t, out, "Recursão usa caso base.")
	assert.NotContains(t, out, "Introdução")
}

func TestAssemble_TruncatesOversizedTopChunk(t *testing.T) {
	long := strings.Repeat("recursão chama recursão ", 400)
	out := Assemble("recursão", []Result{res("big", long, 0.9)}, 50, AssembleOptions{MaxSentences: 10})

	require.NotEmpty(t, out, "top chunk must be truncated, not omitted")
	assert.LessOrEqual(t, EstimateTokens(out), 50)
	assert.Contains(t, out, "recursão")
}

func TestAssemble_TinyBudget(t *testing.T) {
	body := "Recursion lets a function call itself on a smaller input until the base case stops it."
	top := []Result{{Chunk: ContentChunk{ID: "rec", Title: "Recursion", Body: body}, Similarity: 0.9}}

	for budget := 1; budget <= 12; budget++ {
		out := Assemble("recursion function", top, budget, AssembleOptions{})
		assert.LessOrEqual(t, EstimateTokens(out), budget, "budget %d", budget)

		rest := strings.TrimPrefix(strings.TrimPrefix(out, coreHeader), "### Recursion\n")
		assert.NotEmpty(t, rest, "budget %d: %q has no body text", budget, out)
		assert.True(t, strings.HasPrefix(body, rest), "budget %d: %q is not a body prefix", budget, rest)
	}

	assert.Empty(t, Assemble("x", top, 0, AssembleOptions{}))
}

func TestAssemble_OversizedKeepsHeaderWhenRoom(t *testing.T) {
	long := strings.Repeat("recursion calls recursion ", 100)
	out := Assemble("recursion", []Result{res("big", long, 0.9)}, 20, AssembleOptions{MaxSentences: 10})
	assert.True(t, strings.HasPrefix(out, coreHeader+"### big\nrecursion"), out)
	assert.LessOrEqual(t, EstimateTokens(out), 20)
}

func TestAssemble_NeverExceedsBudget(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	words := []string{"recursão", "função", "pilha", "caso", "base", "árvore", "laço", "memória", "chamada", "valor"}

	sentence := func() string {
		n := 3 + rng.Intn(15)
		parts := make([]string, n)
		for i := range parts {
			parts[i] = words[rng.Intn(len(words))]
		}
		return strings.Join(parts, " ") + "."
	}

	for trial := 0; trial < 300; trial++ {
		n := rng.Intn(8)
		results := make([]Result, n)
		for i := range results {
			var b strings.Builder
			for s := 0; s < 1+rng.Intn(12); s++ {
				b.WriteString(sentence())
				b.WriteString(" ")
			}
			results[i] = res(fmt.Sprintf("c%d", i), b.String(), rng.Float64())
		}
		budget := rng.Intn(300)
		opts := AssembleOptions{
			RedundancyThreshold: 0.3 + rng.Float64()*0.7,
			IsolationThreshold:  rng.Float64(),
			MaxSentences:        1 + rng.Intn(6),
		}
		out := Assemble("recursão caso base", results, budget, opts)
		if got := EstimateTokens(out); got > budget {
			t.Fatalf("trial %d: %d tokens exceeds budget %d", trial, got, budget)
		}
	}
}

func TestAssemble_Deterministic(t *testing.T) {
	results := []Result{
		res("a", "Recursão usa caso base. Funções chamam a si mesmas.", 0.7),
		res("b", "Pilhas de chamada crescem a cada chamada.", 0.2),
	}
	first := Assemble("recursão", results, 120, AssembleOptions{})
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Assemble("recursão", results, 120, AssembleOptions{}))
	}
}

func TestJaccard(t *testing.T) {
	a := termSet("a b c")
	b := termSet("b c d")
	assert.InDelta(t, 0.5, Jaccard(a, b), 0.001)
	assert.InDelta(t, 1.0, Jaccard(a, a), 0.001)
}
