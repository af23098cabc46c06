// Package cognitive holds the heuristic problem analyzer and solution
// examiner. Both are pure functions of their inputs.
package cognitive

import (
	"sort"
	"strings"

	"github.com/jeanpaul/tutor/internal/embedding"
	"github.com/jeanpaul/tutor/internal/methodology"
	"github.com/jeanpaul/tutor/internal/types"
)

// ProblemType classifies what the learner is asking for.
type ProblemType string

const (
	ProblemGeneral        ProblemType = "general"
	ProblemConceptual     ProblemType = "conceptual"
	ProblemProcedural     ProblemType = "procedural"
	ProblemDebugging      ProblemType = "debugging"
	ProblemImplementation ProblemType = "implementation"
	ProblemComparison     ProblemType = "comparison"
	ProblemMathematical   ProblemType = "mathematical"
	ProblemReasoning      ProblemType = "reasoning"
)

// Cognitive load levels.
const (
	LoadLow    = "low"
	LoadMedium = "medium"
	LoadHigh   = "high"
)

// Understanding is the result of Analyze.
type Understanding struct {
	ProblemType            ProblemType `json:"problem_type"`
	KeyConcepts            []string    `json:"key_concepts"`
	Difficulty             string      `json:"difficulty"`
	SuggestedMethodology   string      `json:"suggested_methodology"`
	Prerequisites          []string    `json:"prerequisites"`
	EstimatedCognitiveLoad string      `json:"estimated_cognitive_load"`
}

type problemRule struct {
	kind     ProblemType
	keywords []string
}

// problemRules is ordered; on equal scores the earlier rule wins.
var problemRules = []problemRule{
	{ProblemDebugging, []string{
		"error", "erro", "bug", "not working", "não funciona", "nao funciona", "exception",
		"exceção", "crash", "falha", "broken", "fix", "corrigir", "stack overflow", "segfault",
	}},
	{ProblemImplementation, []string{
		"implement", "implementar", "implemente", "write a", "escreva", "escrever", "code for",
		"código", "codigo", "program", "programa", "crie uma função", "create a function", "function that",
		"função que",
	}},
	{ProblemComparison, []string{
		"difference", "diferença", "diferenca", " vs ", "versus", "compare", "comparar",
		"better than", "melhor que", "pros and cons",
	}},
	{ProblemMathematical, []string{
		"prove", "provar", "demonstre", "calculate", "calcule", "calcular", "equation",
		"equação", "integral", "derivative", "derivada", "theorem", "teorema",
	}},
	{ProblemProcedural, []string{
		"how to", "how do i", "como fazer", "como faço", "como eu", "steps", "passo a passo",
		"passos", "procedure", "procedimento",
	}},
	{ProblemReasoning, []string{
		"why", "por que", "porque", "por quê", "reason", "motivo",
	}},
	{ProblemConceptual, []string{
		"what is", "what are", "o que é", "o que e", "o que são", "explain", "explique",
		"define", "defina", "conceito", "concept", "meaning", "significa",
	}},
}

var advancedMarkers = []string{
	"complexity", "complexidade", "big o", "o(n", "optimize", "otimizar", "otimização",
	"dynamic programming", "programação dinâmica", "concurrency", "concorrência",
	"asymptotic", "assintótic", "amortized", "np-", "memoization", "memoização", "tail call", "cauda",
}

var beginnerMarkers = []string{
	"what is", "o que é", "basic", "básico", "basico", "introduction", "introdução",
	"simple", "simples", "beginner", "iniciante", "first time", "primeira vez",
}

// conceptPrerequisites maps recognised concepts (by stem) to what a learner
// should know first.
var conceptPrerequisites = []struct {
	stems   []string
	concept string
	prereqs []string
}{
	{[]string{"recurs"}, "recursion", []string{"functions", "call stack", "conditionals"}},
	{[]string{"pointer", "ponteir"}, "pointers", []string{"variables", "memory addresses"}},
	{[]string{"array", "vetor", "vetores", "lista"}, "arrays", []string{"variables", "loops"}},
	{[]string{"loop", "laço", "laco", "for ", "while"}, "loops", []string{"conditionals", "variables"}},
	{[]string{"sort", "ordena"}, "sorting", []string{"arrays", "loops", "comparisons"}},
	{[]string{"tree", "árvore", "arvore"}, "trees", []string{"recursion", "pointers"}},
	{[]string{"graph", "grafo"}, "graphs", []string{"trees", "queues"}},
	{[]string{"stack", "pilha"}, "stacks", []string{"arrays"}},
	{[]string{"queue", "fila"}, "queues", []string{"arrays"}},
	{[]string{"hash"}, "hash tables", []string{"arrays", "functions"}},
	{[]string{"class", "classe", "objet", "object"}, "object orientation", []string{"functions", "data structures"}},
	{[]string{"fatorial", "factorial"}, "factorial", []string{"multiplication", "recursion"}},
	{[]string{"fibonacci"}, "fibonacci", []string{"recursion", "sequences"}},
	{[]string{"derivad", "derivative"}, "derivatives", []string{"limits", "functions"}},
	{[]string{"integral"}, "integrals", []string{"derivatives"}},
	{[]string{"function", "função", "funcao", "funções"}, "functions", []string{"variables"}},
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "of": true, "to": true, "in": true,
	"and": true, "or": true, "for": true, "on": true, "with": true, "how": true, "what": true, "why": true,
	"do": true, "does": true, "i": true, "me": true, "my": true, "it": true, "this": true, "that": true,
	"can": true, "you": true, "be": true, "as": true, "by": true, "from": true, "about": true,
	"o": true, "os": true, "um": true, "uma": true, "de": true, "da": true,
	"em": true, "no": true, "na": true, "que": true, "é": true, "e": true, "para": true, "com": true,
	"por": true, "como": true, "se": true, "eu": true, "meu": true, "minha": true, "qual": true,
	"quais": true, "isso": true, "esse": true, "essa": true, "mais": true, "ao": true, "dos": true,
	"das": true, "nos": true, "nas": true, "sobre": true, "explique": true, "explain": true,
	"funciona": true, "work": true, "works": true,
}

// Analyze classifies a query. ctx, when non-empty, only contributes concepts
// if the query itself names none.
func Analyze(query, ctx string) Understanding {
	lower := " " + strings.ToLower(query) + " "

	u := Understanding{ProblemType: ProblemGeneral}
	best := 0
	for _, rule := range problemRules {
		score := 0
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > best {
			best = score
			u.ProblemType = rule.kind
		}
	}

	concepts, prereqs := matchConcepts(lower)
	if len(concepts) == 0 && ctx != "" {
		concepts, prereqs = matchConcepts(" " + strings.ToLower(ctx) + " ")
	}
	for _, t := range frequentTerms(query, 5) {
		if len(concepts) >= 5 {
			break
		}
		if !contains(concepts, t) {
			concepts = append(concepts, t)
		}
	}
	u.KeyConcepts = concepts
	u.Prerequisites = without(prereqs, concepts)

	u.Difficulty = difficulty(lower, len(concepts))
	u.SuggestedMethodology = suggest(u.ProblemType, u.Difficulty)
	u.EstimatedCognitiveLoad = load(u.Difficulty, len(u.KeyConcepts), len(u.Prerequisites))
	return u
}

func matchConcepts(lower string) (concepts, prereqs []string) {
	for _, c := range conceptPrerequisites {
		for _, stem := range c.stems {
			if strings.Contains(lower, stem) {
				concepts = append(concepts, c.concept)
				for _, p := range c.prereqs {
					if !contains(prereqs, p) {
						prereqs = append(prereqs, p)
					}
				}
				break
			}
		}
	}
	return concepts, prereqs
}

// frequentTerms returns up to n non-stopword terms of at least four runes,
// most frequent first, ties in order of first appearance.
func frequentTerms(text string, n int) []string {
	counts := map[string]int{}
	var order []string
	for _, t := range embedding.Tokenize(text) {
		if stopwords[t] || len([]rune(t)) < 4 {
			continue
		}
		if counts[t] == 0 {
			order = append(order, t)
		}
		counts[t]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return order
}

func difficulty(lower string, concepts int) string {
	adv, beg := 0, 0
	for _, m := range advancedMarkers {
		if strings.Contains(lower, m) {
			adv++
		}
	}
	for _, m := range beginnerMarkers {
		if strings.Contains(lower, m) {
			beg++
		}
	}
	switch {
	case adv > beg:
		return types.DifficultyAdvanced
	case beg > 0:
		return types.DifficultyBeginner
	case concepts >= 3 || len(strings.Fields(lower)) > 40:
		return types.DifficultyIntermediate
	case concepts == 0:
		return types.DifficultyBeginner
	}
	return types.DifficultyIntermediate
}

func suggest(kind ProblemType, difficulty string) string {
	switch kind {
	case ProblemDebugging:
		return methodology.Scaffolding
	case ProblemImplementation:
		return methodology.WorkedExamples
	case ProblemProcedural, ProblemMathematical:
		return methodology.SequentialThinking
	case ProblemReasoning:
		return methodology.Socratic
	case ProblemConceptual:
		if difficulty == types.DifficultyBeginner {
			return methodology.Analogy
		}
		return methodology.Default
	}
	return methodology.Default
}

func load(difficulty string, concepts, prereqs int) string {
	score := concepts + prereqs/2
	switch difficulty {
	case types.DifficultyAdvanced:
		score += 4
	case types.DifficultyIntermediate:
		score += 2
	}
	switch {
	case score >= 7:
		return LoadHigh
	case score >= 4:
		return LoadMedium
	}
	return LoadLow
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func without(list, remove []string) []string {
	out := []string{}
	for _, v := range list {
		if !contains(remove, v) {
			out = append(out, v)
		}
	}
	return out
}
