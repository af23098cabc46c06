package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeanpaul/tutor/internal/config"
	"github.com/jeanpaul/tutor/internal/embedding"
	"github.com/jeanpaul/tutor/internal/logging"
	"github.com/jeanpaul/tutor/internal/metrics"
	"github.com/jeanpaul/tutor/internal/types"
)

// ErrRetrievalTimeout is returned when the index or embedder does not answer
// within the retrieval deadline. Callers proceed with empty context.
var ErrRetrievalTimeout = errors.New("retrieval timeout")

// Engine embeds, indexes and searches chunks and builds prompt context.
type Engine struct {
	index    Index
	embedder embedding.Embedder
	cfg      config.RetrievalConfig
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewEngine(index Index, embedder embedding.Embedder, cfg config.RetrievalConfig, logger zerolog.Logger, m *metrics.Metrics) *Engine {
	if cfg.SearchLimit < 1 {
		cfg.SearchLimit = 5
	}
	if cfg.Overfetch < 1 {
		cfg.Overfetch = 4
	}
	if cfg.MaxSentences < 1 {
		cfg.MaxSentences = 4
	}
	return &Engine{
		index:    index,
		embedder: embedder,
		cfg:      cfg,
		logger:   logging.Component(logger, "retrieval"),
		metrics:  m,
		now:      time.Now,
	}
}

// Index embeds the chunk's title and body and upserts it.
func (e *Engine) Index(ctx context.Context, chunk ContentChunk) (ContentChunk, error) {
	chunk.ID = strings.TrimSpace(chunk.ID)
	if chunk.ID == "" {
		return ContentChunk{}, fmt.Errorf("index chunk: id is required")
	}
	if strings.TrimSpace(chunk.Body) == "" {
		return ContentChunk{}, fmt.Errorf("index chunk %s: body is required", chunk.ID)
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	vec, err := e.embedder.Embed(ctx, chunk.Title+"\n"+chunk.Body)
	if err != nil {
		return ContentChunk{}, e.wrap(ctx, "embed chunk "+chunk.ID, err)
	}
	chunk.Embedding = vec
	chunk.IndexedAt = e.now()

	stored, err := e.index.Upsert(ctx, chunk)
	if err != nil {
		return ContentChunk{}, e.wrap(ctx, "upsert chunk "+chunk.ID, err)
	}
	e.observeSize(ctx)
	e.logger.Debug().Str("id", stored.ID).Int("version", stored.Version).Msg("chunk indexed")
	return stored, nil
}

// Search returns up to limit chunks that pass the user-context filter,
// ordered by descending similarity.
func (e *Engine) Search(ctx context.Context, query string, uc types.UserContext, limit int) ([]Result, error) {
	if limit < 1 {
		limit = e.cfg.SearchLimit
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, e.wrap(ctx, "embed query", err)
	}

	candidates, err := e.index.Query(ctx, vec, limit*e.cfg.Overfetch)
	if err != nil {
		return nil, e.wrap(ctx, "query index", err)
	}

	results := make([]Result, 0, limit)
	for _, r := range candidates {
		if r.Similarity < e.cfg.MinSimilarity {
			continue
		}
		if !matches(r.Chunk, uc) {
			continue
		}
		results = append(results, r)
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// BuildContext searches for the query and assembles the results into at most
// budget tokens of labelled context.
func (e *Engine) BuildContext(ctx context.Context, query string, uc types.UserContext, budget int) (string, error) {
	if budget <= 0 {
		budget = e.cfg.TokenBudget
	}
	results, err := e.Search(ctx, query, uc, e.cfg.SearchLimit)
	if err != nil {
		return "", err
	}
	return Assemble(query, results, budget, e.assembleOptions()), nil
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	return e.index.Stats(ctx)
}

func (e *Engine) Ping(ctx context.Context) error {
	return e.index.Ping(ctx)
}

func (e *Engine) assembleOptions() AssembleOptions {
	return AssembleOptions{
		RedundancyThreshold: e.cfg.RedundancyThreshold,
		IsolationThreshold:  e.cfg.IsolationThreshold,
		MaxSentences:        e.cfg.MaxSentences,
	}
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, e.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// wrap maps deadline expiry to ErrRetrievalTimeout.
func (e *Engine) wrap(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if e.metrics != nil {
			e.metrics.RetrievalTimeouts.Inc()
		}
		e.logger.Warn().Err(err).Str("op", op).Msg("retrieval timed out")
		return fmt.Errorf("%s: %w", op, ErrRetrievalTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (e *Engine) observeSize(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	if st, err := e.index.Stats(ctx); err == nil {
		e.metrics.IndexSize.Set(float64(st.Size))
	}
}
