package retrieval

import (
	"context"
	"sync"

	"github.com/jeanpaul/tutor/internal/embedding"
)

// Index is the vector store collaborator: upsert plus nearest-neighbour
// query. Implementations must be safe for concurrent use.
type Index interface {
	// Upsert stores the chunk, replacing any chunk with the same ID, and
	// returns it with Version set.
	Upsert(ctx context.Context, chunk ContentChunk) (ContentChunk, error)
	// Query returns up to k chunks ordered by similarity to vec.
	Query(ctx context.Context, vec []float32, k int) ([]Result, error)
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
	Close() error
}

// MemoryIndex keeps chunks in process. Searches take a read lock only, so
// they never block each other.
type MemoryIndex struct {
	mu     sync.RWMutex
	chunks map[string]ContentChunk
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{chunks: make(map[string]ContentChunk)}
}

func (m *MemoryIndex) Upsert(ctx context.Context, chunk ContentChunk) (ContentChunk, error) {
	if err := ctx.Err(); err != nil {
		return ContentChunk{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	chunk.Version = 1
	if prev, ok := m.chunks[chunk.ID]; ok {
		chunk.Version = prev.Version + 1
	}
	m.chunks[chunk.ID] = chunk
	return chunk, nil
}

func (m *MemoryIndex) Query(ctx context.Context, vec []float32, k int) ([]Result, error) {
	m.mu.RLock()
	results := make([]Result, 0, len(m.chunks))
	for _, c := range m.chunks {
		results = append(results, Result{Chunk: c, Similarity: embedding.CosineSimilarity(vec, c.Embedding)})
	}
	m.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sortResults(results)
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (m *MemoryIndex) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := newStats()
	for _, c := range m.chunks {
		s.add(c)
	}
	return s, nil
}

func (m *MemoryIndex) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryIndex) Close() error { return nil }
