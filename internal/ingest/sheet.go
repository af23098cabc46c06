package ingest

import (
	"fmt"
	"strings"

	"github.com/jeanpaul/tutor/internal/retrieval"
)

// chunksFromSheets imports spreadsheets laid out one chunk per row. The
// first row is the header; a "body" column is required and id, title,
// subject, topic, difficulty, tags (comma separated) and content_type are
// optional. Columns left empty fall back to meta.
func chunksFromSheets(path string, sheets map[string][][]string, order []string, meta Meta) ([]retrieval.ContentChunk, bool) {
	var out []retrieval.ContentChunk
	found := false
	for _, name := range order {
		rows := sheets[name]
		if len(rows) < 2 {
			continue
		}
		cols := map[string]int{}
		for i, h := range rows[0] {
			cols[strings.ToLower(strings.TrimSpace(h))] = i
		}
		if _, ok := cols["body"]; !ok {
			continue
		}
		found = true

		get := func(row []string, col, fallback string) string {
			i, ok := cols[col]
			if !ok || i >= len(row) || strings.TrimSpace(row[i]) == "" {
				return fallback
			}
			return strings.TrimSpace(row[i])
		}

		for n, row := range rows[1:] {
			body := get(row, "body", "")
			if body == "" {
				continue
			}
			id := get(row, "id", fmt.Sprintf("%s-%s#%d", Slug(path), Slug(name), n+1))
			tags := meta.Tags
			if raw := get(row, "tags", ""); raw != "" {
				tags = nil
				for _, t := range strings.Split(raw, ",") {
					if t = strings.TrimSpace(t); t != "" {
						tags = append(tags, t)
					}
				}
			}
			out = append(out, retrieval.ContentChunk{
				ID:          id,
				Title:       get(row, "title", baseTitle(path)),
				Body:        body,
				ContentType: get(row, "content_type", orDefault(meta.ContentType, "text")),
				Subject:     get(row, "subject", meta.Subject),
				Topic:       get(row, "topic", meta.Topic),
				Difficulty:  get(row, "difficulty", meta.Difficulty),
				Tags:        tags,
			})
		}
	}
	return out, found
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
