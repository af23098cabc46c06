package ingest

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// parsePDF extracts plain text page by page; each page becomes a section.
func parsePDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	for pageIndex := 1; pageIndex <= r.NumPage(); pageIndex++ {
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", pageIndex, err)
		}
		if text = cleanText(text); text != "" {
			fmt.Fprintf(&sb, "## Page %d\n\n%s\n\n", pageIndex, text)
		}
	}
	return sb.String(), nil
}

// cleanText removes artifacts common in PDF extraction.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	return strings.TrimSpace(text)
}

// readSheets returns the rows of every sheet in a workbook.
func readSheets(path string) (map[string][][]string, []string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	out := make(map[string][][]string, len(sheets))
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, nil, fmt.Errorf("sheet %s: %w", sheet, err)
		}
		out[sheet] = rows
	}
	return out, sheets, nil
}

// rowsToMarkdown renders rows as a Markdown table with the first row as header.
func rowsToMarkdown(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	maxCols := 0
	for _, row := range rows {
		if len(row) > maxCols {
			maxCols = len(row)
		}
	}

	cells := func(row []string) string {
		out := make([]string, maxCols)
		for j := range out {
			if j < len(row) {
				v := strings.ReplaceAll(row[j], "|", "\\|")
				out[j] = strings.ReplaceAll(v, "\n", " ")
			}
		}
		return "| " + strings.Join(out, " | ") + " |\n"
	}

	var sb strings.Builder
	sb.WriteString(cells(rows[0]))
	sb.WriteString("|")
	for i := 0; i < maxCols; i++ {
		sb.WriteString(" --- |")
	}
	sb.WriteString("\n")
	for _, row := range rows[1:] {
		sb.WriteString(cells(row))
	}
	return sb.String()
}

// htmlToMarkdown extracts the main article from an HTML page and converts it
// to Markdown. base resolves relative links and may be nil.
func htmlToMarkdown(r io.Reader, base *url.URL) (title, body string, err error) {
	if base == nil {
		base = &url.URL{}
	}
	article, err := readability.FromReader(r, base)
	if err != nil {
		return "", "", fmt.Errorf("readability: %w", err)
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(article.Content)
	if err != nil {
		return article.Title, article.TextContent, nil
	}
	return article.Title, markdown, nil
}
