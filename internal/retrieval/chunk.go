// Package retrieval indexes content chunks and assembles budgeted context
// for prompt composition.
package retrieval

import (
	"sort"
	"strings"
	"time"

	"github.com/jeanpaul/tutor/internal/types"
)

// ContentChunk is one unit of indexed learning material. Re-indexing the
// same ID replaces the stored vector and bumps Version.
type ContentChunk struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	ContentType string    `json:"content_type,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	Topic       string    `json:"topic,omitempty"`
	Difficulty  string    `json:"difficulty,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Embedding   []float32 `json:"-"`
	IndexedAt   time.Time `json:"indexed_at"`
	Version     int       `json:"version"`
}

// Result is a chunk with its cosine similarity to the query.
type Result struct {
	Chunk      ContentChunk `json:"chunk"`
	Similarity float64      `json:"similarity"`
}

// Stats describes the index contents.
type Stats struct {
	Size          int            `json:"size"`
	BySubject     map[string]int `json:"by_subject"`
	ByDifficulty  map[string]int `json:"by_difficulty"`
	ByContentType map[string]int `json:"by_content_type"`
}

func newStats() Stats {
	return Stats{
		BySubject:     map[string]int{},
		ByDifficulty:  map[string]int{},
		ByContentType: map[string]int{},
	}
}

func (s *Stats) add(c ContentChunk) {
	s.Size++
	s.BySubject[segmentKey(c.Subject)]++
	s.ByDifficulty[segmentKey(c.Difficulty)]++
	s.ByContentType[segmentKey(c.ContentType)]++
}

func segmentKey(v string) string {
	if v == "" {
		return "unspecified"
	}
	return strings.ToLower(v)
}

// matches reports whether a chunk passes the metadata filter derived from the
// user context. Only fields set on the context constrain the result.
func matches(c ContentChunk, uc types.UserContext) bool {
	if uc.Subject != "" && !strings.EqualFold(c.Subject, uc.Subject) {
		return false
	}
	if uc.DifficultyLevel != "" && !strings.EqualFold(c.Difficulty, uc.DifficultyLevel) {
		return false
	}
	if len(uc.Tags) > 0 && !intersects(c.Tags, uc.Tags) {
		return false
	}
	return true
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if strings.EqualFold(x, y) {
				return true
			}
		}
	}
	return false
}

// sortResults orders by descending similarity, most recently indexed first
// on ties, then by ID.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if !results[i].Chunk.IndexedAt.Equal(results[j].Chunk.IndexedAt) {
			return results[i].Chunk.IndexedAt.After(results[j].Chunk.IndexedAt)
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
}
