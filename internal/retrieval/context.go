package retrieval

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jeanpaul/tutor/internal/embedding"
)

const (
	coreHeader       = "## Core material\n\n"
	supportingHeader = "## Supporting material\n\n"
)

// AssembleOptions tunes compression and isolation. Zero values fall back to
// the defaults used by the engine.
type AssembleOptions struct {
	// Sentences whose token-set Jaccard similarity to an already kept
	// sentence reaches this value are dropped as redundant.
	RedundancyThreshold float64
	// Results at or above this similarity go to the core region.
	IsolationThreshold float64
	// Maximum sentences kept per chunk.
	MaxSentences int
}

func (o AssembleOptions) withDefaults() AssembleOptions {
	if o.RedundancyThreshold <= 0 {
		o.RedundancyThreshold = 0.8
	}
	if o.IsolationThreshold <= 0 {
		o.IsolationThreshold = 0.35
	}
	if o.MaxSentences < 1 {
		o.MaxSentences = 4
	}
	return o
}

// EstimateTokens approximates token count as one token per four runes,
// rounded up.
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

type segment struct {
	title string
	body  string
	core  bool
}

func (s segment) text() string { return s.title + s.body }

// Assemble compresses ranked results, isolates them into core and
// supporting regions and packs them, highest relevance first, into at most
// budget tokens. If the best segment alone does not fit it is truncated
// and returned on its own.
//
// Each piece's token cost is estimated separately. Because the estimate
// rounds up per piece, the sum is never below the estimate of the joined
// output, so staying within the summed cost keeps the result within budget.
func Assemble(query string, results []Result, budget int, opts AssembleOptions) string {
	if budget <= 0 || len(results) == 0 {
		return ""
	}
	opts = opts.withDefaults()

	ranked := make([]Result, len(results))
	copy(ranked, results)
	sortResults(ranked)

	segments := compress(query, ranked, opts)
	if len(segments) == 0 {
		return ""
	}

	var core, supporting []string
	used := 0
	for i, seg := range segments {
		header := ""
		if seg.core && len(core) == 0 {
			header = coreHeader
		} else if !seg.core && len(supporting) == 0 {
			header = supportingHeader
		}
		cost := EstimateTokens(header) + EstimateTokens(seg.text())
		if used+cost > budget {
			if i > 0 {
				break
			}
			return fitOversized(header, seg, budget)
		}
		used += cost
		if seg.core {
			core = append(core, seg.text())
		} else {
			supporting = append(supporting, seg.text())
		}
	}

	var b strings.Builder
	if len(core) > 0 {
		b.WriteString(coreHeader)
		for _, s := range core {
			b.WriteString(s)
		}
	}
	if len(supporting) > 0 {
		b.WriteString(supportingHeader)
		for _, s := range supporting {
			b.WriteString(s)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// fitOversized truncates a lone segment to budget. The region header is
// dropped first and then the title, so any budget of at least one token
// keeps a prefix of the body.
func fitOversized(header string, seg segment, budget int) string {
	for _, prefix := range []string{header + seg.title, seg.title, ""} {
		room := budget - EstimateTokens(prefix)
		if room <= 0 {
			continue
		}
		return strings.TrimRight(prefix+truncateRunes(seg.body, room*4), "\n")
	}
	return ""
}

// compress reduces each result to its most query-relevant sentences,
// dropping sentences that repeat one already kept from a higher-ranked
// chunk.
func compress(query string, results []Result, opts AssembleOptions) []segment {
	queryTerms := termSet(query)
	var kept []map[string]struct{}
	var out []segment

	for _, r := range results {
		sentences := splitSentences(r.Chunk.Body)
		type scored struct {
			pos   int
			text  string
			terms map[string]struct{}
			score float64
		}
		candidates := make([]scored, 0, len(sentences))
		for i, s := range sentences {
			terms := termSet(s)
			candidates = append(candidates, scored{pos: i, text: s, terms: terms, score: overlap(queryTerms, terms)})
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].score > candidates[j].score
		})

		var picked []scored
		for _, c := range candidates {
			if len(picked) == opts.MaxSentences {
				break
			}
			if redundant(c.terms, kept, opts.RedundancyThreshold) {
				continue
			}
			picked = append(picked, c)
			kept = append(kept, c.terms)
		}
		if len(picked) == 0 {
			continue
		}
		sort.Slice(picked, func(i, j int) bool { return picked[i].pos < picked[j].pos })

		var title string
		if r.Chunk.Title != "" {
			title = "### " + r.Chunk.Title + "\n"
		}
		var b strings.Builder
		for i, p := range picked {
			if i > 0 {
				b.WriteString(" ")
			}
			b.WriteString(p.text)
		}
		b.WriteString("\n\n")
		out = append(out, segment{title: title, body: b.String(), core: r.Similarity >= opts.IsolationThreshold})
	}
	return out
}

var sentenceEnd = regexp.MustCompile(`[.!?]+(\s+|$)`)

// splitSentences splits text at sentence boundaries, keeping terminators.
func splitSentences(text string) []string {
	text = strings.Join(strings.Fields(text), " ")
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start:loc[1]]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func termSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range embedding.Tokenize(s) {
		set[t] = struct{}{}
	}
	return set
}

// overlap is the fraction of query terms present in the sentence.
func overlap(query, sentence map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for t := range query {
		if _, ok := sentence[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

// Jaccard returns |a∩b| / |a∪b| over two term sets.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func redundant(terms map[string]struct{}, kept []map[string]struct{}, threshold float64) bool {
	for _, k := range kept {
		if Jaccard(terms, k) >= threshold {
			return true
		}
	}
	return false
}

// truncateRunes cuts s to at most n runes, preferring a word boundary in
// the second half of the allowance.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := r[:n]
	for i := len(cut) - 1; i >= n/2; i-- {
		if cut[i] == ' ' || cut[i] == '\n' {
			cut = cut[:i]
			break
		}
	}
	return string(cut)
}
