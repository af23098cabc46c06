// Package memory folds conversation turns into a bounded per-session
// memory state.
package memory

import (
	"regexp"
	"sort"
	"strings"

	"github.com/jeanpaul/tutor/internal/config"
	"github.com/jeanpaul/tutor/internal/embedding"
	"github.com/jeanpaul/tutor/internal/types"
)

type ConversationTurn = types.ConversationTurn

// Insight is a short statement retained about the session.
type Insight struct {
	Text           string  `json:"text"`
	RelevanceScore float64 `json:"relevance_score"`
	CreatedTurn    int     `json:"created_turn"`
}

// State is the consolidated memory of one session. Its size is bounded by
// the consolidator limits no matter how many turns are folded in.
type State struct {
	Topic                string    `json:"topic,omitempty"`
	Insights             []Insight `json:"insights"`
	CompactSummary       string    `json:"compact_summary"`
	LastConsolidatedTurn int       `json:"last_consolidated_turn"`
}

const (
	maxTopicRunes       = 120
	maxExtractedPerTurn = 3
	// scoreDecay ages prior insights on every turn so stale ones are pruned
	// first.
	scoreDecay = 0.95
)

// Limits bound the memory state.
type Limits struct {
	MaxInsights     int
	MaxInsightRunes int
	MaxSummaryRunes int
	DedupThreshold  float64
}

// LimitsFromConfig fills zero values with defaults.
func LimitsFromConfig(cfg config.MemoryConfig) Limits {
	l := Limits{
		MaxInsights:     cfg.MaxInsights,
		MaxInsightRunes: cfg.MaxInsightRunes,
		MaxSummaryRunes: cfg.MaxSummaryRunes,
		DedupThreshold:  cfg.DedupThreshold,
	}
	if l.MaxInsights < 1 {
		l.MaxInsights = 20
	}
	if l.MaxInsightRunes < 16 {
		l.MaxInsightRunes = 240
	}
	if l.MaxSummaryRunes < 16 {
		l.MaxSummaryRunes = 800
	}
	if l.DedupThreshold <= 0 || l.DedupThreshold > 1 {
		l.DedupThreshold = 0.75
	}
	return l
}

// Consolidator merges turns into State. It is stateless and safe for
// concurrent use; ordering per session is enforced by Sessions.
type Consolidator struct {
	limits Limits
}

func NewConsolidator(limits Limits) *Consolidator {
	return &Consolidator{limits: limits}
}

func (c *Consolidator) Limits() Limits { return c.limits }

// Consolidate folds turn and the caller's insights into prior and returns
// the new state. prior is not modified.
func (c *Consolidator) Consolidate(prior State, turn ConversationTurn, insights []string) State {
	next := State{
		Topic:                truncate(prior.Topic, maxTopicRunes),
		Insights:             make([]Insight, 0, len(prior.Insights)+len(insights)+maxExtractedPerTurn),
		LastConsolidatedTurn: turn.Order,
	}

	for _, in := range prior.Insights {
		in.RelevanceScore *= scoreDecay
		next.Insights = append(next.Insights, in)
	}

	topic := termSet(next.Topic + " " + prior.CompactSummary)
	if len(topic) == 0 {
		topic = termSet(turn.Content)
	}

	candidates := append(ExtractInsights(turn), insights...)
	for _, text := range candidates {
		text = truncate(strings.TrimSpace(text), c.limits.MaxInsightRunes)
		if text == "" {
			continue
		}
		cand := Insight{Text: text, RelevanceScore: relevance(text, topic), CreatedTurn: turn.Order}
		next.Insights = c.merge(next.Insights, cand)
	}

	// Lowest relevance goes first; on ties the oldest goes first.
	sort.SliceStable(next.Insights, func(i, j int) bool {
		a, b := next.Insights[i], next.Insights[j]
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		return a.CreatedTurn > b.CreatedTurn
	})
	if len(next.Insights) > c.limits.MaxInsights {
		next.Insights = next.Insights[:c.limits.MaxInsights]
	}

	next.CompactSummary = c.summarize(next.Insights)
	return next
}

// merge adds cand unless a near-identical insight exists, in which case the
// higher score is kept and the insight is marked as seen this turn.
func (c *Consolidator) merge(list []Insight, cand Insight) []Insight {
	ct := termSet(cand.Text)
	for i := range list {
		if jaccard(ct, termSet(list[i].Text)) >= c.limits.DedupThreshold {
			if cand.RelevanceScore > list[i].RelevanceScore {
				list[i].RelevanceScore = cand.RelevanceScore
			}
			list[i].CreatedTurn = cand.CreatedTurn
			return list
		}
	}
	return append(list, cand)
}

func (c *Consolidator) summarize(insights []Insight) string {
	var b strings.Builder
	for _, in := range insights {
		piece := in.Text
		if b.Len() > 0 {
			piece = "; " + piece
		}
		if runeLen(b.String())+runeLen(piece) > c.limits.MaxSummaryRunes {
			if b.Len() == 0 {
				return truncate(piece, c.limits.MaxSummaryRunes)
			}
			break
		}
		b.WriteString(piece)
	}
	return b.String()
}

var (
	sentenceRe   = regexp.MustCompile(`[^.!?\n]+[.!?]?`)
	learnerCues  = []string{"i don't understand", "i dont understand", "não entendi", "nao entendi", "confus", "i prefer", "prefiro", "i like", "gosto", "struggl", "dificuldade", "i already know", "já sei", "ja sei", "i'm learning", "estou aprendendo"}
	factCues     = []string{" is ", " are ", " means ", " é ", " são ", " significa ", " serve para ", " consiste "}
	minInsightWd = 4
	maxInsightWd = 30
)

// ExtractInsights derives short statements from a turn: what the learner
// says about their understanding or preferences, and definitions the
// assistant gives.
func ExtractInsights(turn ConversationTurn) []string {
	cues := factCues
	prefix := ""
	if turn.Role == types.RoleUser {
		cues = learnerCues
		prefix = "Learner: "
	}
	var out []string
	for _, s := range sentenceRe.FindAllString(turn.Content, -1) {
		s = strings.TrimSpace(s)
		n := len(strings.Fields(s))
		if n < minInsightWd || n > maxInsightWd {
			continue
		}
		lower := " " + strings.ToLower(s) + " "
		for _, cue := range cues {
			if strings.Contains(lower, cue) {
				out = append(out, prefix+s)
				break
			}
		}
		if len(out) == maxExtractedPerTurn {
			break
		}
	}
	return out
}

// relevance scores an insight by the share of its terms that belong to the
// running topic. Fresh insights get a floor so they survive their first
// turn.
func relevance(text string, topic map[string]struct{}) float64 {
	terms := termSet(text)
	if len(terms) == 0 {
		return 0
	}
	hits := 0
	for t := range terms {
		if _, ok := topic[t]; ok {
			hits++
		}
	}
	return 0.3 + 0.7*float64(hits)/float64(len(terms))
}

func termSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range embedding.Tokenize(s) {
		if len([]rune(t)) < 3 {
			continue
		}
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func runeLen(s string) int { return len([]rune(s)) }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
