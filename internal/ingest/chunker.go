package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jeanpaul/tutor/internal/retrieval"
)

// Options bounds chunk size.
type Options struct {
	MaxTokens int
	MinTokens int
}

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 300
	}
	if o.MinTokens <= 0 {
		o.MinTokens = 5
	}
	return o
}

type section struct {
	heading string
	body    string
}

var sectionRe = regexp.MustCompile(`(?m)^#{1,3}\s+.+$`)

// Split cuts a document into chunks at headings, then at paragraph and
// sentence boundaries so no chunk exceeds MaxTokens. IDs derive from the
// source and position, so re-ingesting a file replaces its chunks.
func Split(doc Document, meta Meta, opts Options) []retrieval.ContentChunk {
	opts = opts.withDefaults()
	ctype := meta.ContentType
	if ctype == "" {
		ctype = doc.ContentType
	}

	var out []retrieval.ContentChunk
	for _, sec := range sections(doc.Body) {
		title := doc.Title
		if sec.heading != "" && sec.heading != doc.Title {
			title = doc.Title + " / " + sec.heading
		}
		for _, text := range pack(sec.body, opts) {
			out = append(out, retrieval.ContentChunk{
				ID:          fmt.Sprintf("%s#%d", Slug(doc.Source), len(out)+1),
				Title:       title,
				Body:        text,
				ContentType: ctype,
				Subject:     meta.Subject,
				Topic:       meta.Topic,
				Difficulty:  meta.Difficulty,
				Tags:        meta.Tags,
			})
		}
	}
	return out
}

func sections(body string) []section {
	locs := sectionRe.FindAllStringIndex(body, -1)
	if len(locs) == 0 {
		return []section{{body: body}}
	}
	var out []section
	if pre := strings.TrimSpace(body[:locs[0][0]]); pre != "" {
		out = append(out, section{body: pre})
	}
	for i, loc := range locs {
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		heading := strings.TrimSpace(strings.TrimLeft(body[loc[0]:loc[1]], "#"))
		out = append(out, section{heading: heading, body: body[loc[1]:end]})
	}
	return out
}

var paragraphRe = regexp.MustCompile(`\n\s*\n`)

// pack groups paragraphs into pieces of at most MaxTokens. Paragraphs that
// are too long on their own are split at sentence boundaries.
func pack(body string, opts Options) []string {
	var units []string
	for _, p := range paragraphRe.Split(body, -1) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if retrieval.EstimateTokens(p) <= opts.MaxTokens {
			units = append(units, p)
			continue
		}
		units = append(units, splitLong(p, opts.MaxTokens)...)
	}

	var out []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" && retrieval.EstimateTokens(s) >= opts.MinTokens {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, u := range units {
		if cur.Len() > 0 && retrieval.EstimateTokens(cur.String())+retrieval.EstimateTokens(u)+1 > opts.MaxTokens {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(u)
	}
	flush()
	return out
}

var sentenceSplitRe = regexp.MustCompile(`([.!?])\s+`)

func splitLong(p string, maxTokens int) []string {
	sentences := strings.Split(sentenceSplitRe.ReplaceAllString(p, "$1\x00"), "\x00")
	var out []string
	var cur strings.Builder
	for _, s := range sentences {
		for retrieval.EstimateTokens(s) > maxTokens {
			// a single sentence longer than the limit is cut by runes
			r := []rune(s)
			out = append(out, string(r[:maxTokens*4]))
			s = string(r[maxTokens*4:])
		}
		if cur.Len() > 0 && retrieval.EstimateTokens(cur.String())+retrieval.EstimateTokens(s)+1 > maxTokens {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(s)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug makes a stable identifier from a path or URL.
func Slug(s string) string {
	s = strings.Trim(slugRe.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(s) > 80 {
		s = s[len(s)-80:]
	}
	return s
}
