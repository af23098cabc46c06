// Package ingest turns lesson files (Markdown, text, HTML, PDF, XLSX) and web
// pages into content chunks for the retrieval index.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jeanpaul/tutor/internal/retrieval"
)

// Meta is applied to every chunk produced from one source.
type Meta struct {
	Subject     string
	Topic       string
	Difficulty  string
	Tags        []string
	ContentType string
}

// Document is a parsed source before chunking.
type Document struct {
	Title       string
	Body        string
	Source      string
	ContentType string
}

// Supported reports whether a file extension can be ingested.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt", ".html", ".htm", ".pdf", ".xlsx":
		return true
	}
	return false
}

// File parses and chunks one file. Spreadsheets whose first row names a
// "body" column are imported one chunk per row; every other format is split
// into sections.
func File(path string, meta Meta, opts Options) ([]retrieval.ContentChunk, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".xlsx" {
		sheets, order, err := readSheets(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if chunks, ok := chunksFromSheets(path, sheets, order, meta); ok {
			return chunks, nil
		}
		var sb strings.Builder
		for _, name := range order {
			if len(sheets[name]) == 0 {
				continue
			}
			fmt.Fprintf(&sb, "## %s\n\n%s\n", name, rowsToMarkdown(sheets[name]))
		}
		return Split(Document{Title: baseTitle(path), Body: sb.String(), Source: path, ContentType: "table"}, meta, opts), nil
	}

	doc, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Split(doc, meta, opts), nil
}

// ParseFile reads a single non-spreadsheet file into a Document.
func ParseFile(path string) (Document, error) {
	doc := Document{Title: baseTitle(path), Source: path, ContentType: "text"}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return doc, err
		}
		doc.Body = string(data)
		if t := firstHeading(doc.Body); t != "" {
			doc.Title = t
		}
	case ".html", ".htm":
		data, err := os.ReadFile(path)
		if err != nil {
			return doc, err
		}
		title, body, err := htmlToMarkdown(bytes.NewReader(data), nil)
		if err != nil {
			return doc, fmt.Errorf("parse %s: %w", path, err)
		}
		doc.Body = body
		if title != "" {
			doc.Title = title
		}
	case ".pdf":
		body, err := parsePDF(path)
		if err != nil {
			return doc, fmt.Errorf("parse %s: %w", path, err)
		}
		doc.Body = body
	default:
		return doc, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
	return doc, nil
}

// FetchURL downloads a web page and extracts its main content.
func FetchURL(ctx context.Context, rawURL string) (Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Document{}, fmt.Errorf("invalid url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Document{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; tutor-indexer/1.0)")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Document{}, fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	title, body, err := htmlToMarkdown(resp.Body, u)
	if err != nil {
		return Document{}, err
	}
	if title == "" {
		title = u.Host + u.Path
	}
	return Document{Title: title, Body: body, Source: rawURL, ContentType: "web"}, nil
}

var headingRe = regexp.MustCompile(`(?m)^#{1,3}\s+(.+)$`)

func firstHeading(s string) string {
	if m := headingRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func baseTitle(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.NewReplacer("_", " ", "-", " ").Replace(name)
}
