package retrieval

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jeanpaul/tutor/internal/embedding"
)

// SQLiteIndex stores chunks and their vectors in SQLite and scores them by
// brute-force cosine similarity. It suits course-sized corpora.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex creates the content table on db if needed. The caller owns
// db; Close is a no-op.
func NewSQLiteIndex(db *sql.DB) (*SQLiteIndex, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS content_chunks (
		id           TEXT PRIMARY KEY,
		title        TEXT NOT NULL,
		body         TEXT NOT NULL,
		content_type TEXT,
		subject      TEXT,
		topic        TEXT,
		difficulty   TEXT,
		tags         TEXT,
		embedding    BLOB,
		indexed_at   TEXT NOT NULL,
		version      INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_subject ON content_chunks(subject);
	CREATE INDEX IF NOT EXISTS idx_chunks_difficulty ON content_chunks(difficulty);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate content_chunks: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

func (s *SQLiteIndex) Upsert(ctx context.Context, chunk ContentChunk) (ContentChunk, error) {
	tags, err := json.Marshal(chunk.Tags)
	if err != nil {
		return ContentChunk{}, fmt.Errorf("chunk %s: encode tags: %w", chunk.ID, err)
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO content_chunks (id, title, body, content_type, subject, topic, difficulty, tags, embedding, indexed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			content_type = excluded.content_type,
			subject = excluded.subject,
			topic = excluded.topic,
			difficulty = excluded.difficulty,
			tags = excluded.tags,
			embedding = excluded.embedding,
			indexed_at = excluded.indexed_at,
			version = content_chunks.version + 1
		RETURNING version`,
		chunk.ID, chunk.Title, chunk.Body, chunk.ContentType, chunk.Subject, chunk.Topic,
		chunk.Difficulty, string(tags), encodeVector(chunk.Embedding),
		chunk.IndexedAt.UTC().Format(time.RFC3339Nano),
	)
	if err := row.Scan(&chunk.Version); err != nil {
		return ContentChunk{}, fmt.Errorf("upsert chunk %s: %w", chunk.ID, err)
	}
	return chunk, nil
}

func (s *SQLiteIndex) Query(ctx context.Context, vec []float32, k int) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, body, content_type, subject, topic, difficulty, tags, embedding, indexed_at, version
		FROM content_chunks`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{Chunk: c, Similarity: embedding.CosineSimilarity(vec, c.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sortResults(results)
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *SQLiteIndex) Stats(ctx context.Context) (Stats, error) {
	st := newStats()
	rows, err := s.db.QueryContext(ctx, `SELECT subject, difficulty, content_type FROM content_chunks`)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var subject, difficulty, ctype sql.NullString
		if err := rows.Scan(&subject, &difficulty, &ctype); err != nil {
			return st, err
		}
		st.add(ContentChunk{Subject: subject.String, Difficulty: difficulty.String, ContentType: ctype.String})
	}
	return st, rows.Err()
}

func (s *SQLiteIndex) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteIndex) Close() error { return nil }

type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(sc scanner) (ContentChunk, error) {
	var (
		c                                   ContentChunk
		ctype, subject, topic, diff, tagsJS sql.NullString
		blob                                []byte
		indexedAt                           string
	)
	if err := sc.Scan(&c.ID, &c.Title, &c.Body, &ctype, &subject, &topic, &diff, &tagsJS, &blob, &indexedAt, &c.Version); err != nil {
		return c, fmt.Errorf("scan chunk: %w", err)
	}
	c.ContentType = ctype.String
	c.Subject = subject.String
	c.Topic = topic.String
	c.Difficulty = diff.String
	if tagsJS.Valid && tagsJS.String != "" {
		if err := json.Unmarshal([]byte(tagsJS.String), &c.Tags); err != nil {
			return c, fmt.Errorf("chunk %s: decode tags: %w", c.ID, err)
		}
	}
	c.Embedding = decodeVector(blob)
	t, err := time.Parse(time.RFC3339Nano, indexedAt)
	if err != nil {
		return c, fmt.Errorf("chunk %s: parse indexed_at: %w", c.ID, err)
	}
	c.IndexedAt = t
	return c, nil
}

// encodeVector converts a float32 slice to little-endian bytes for BLOB
// storage.
func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
