package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/jeanpaul/tutor/internal/retrieval"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFile_MarkdownSplitsAtHeadings(t *testing.T) {
	path := writeFile(t, "recursao.md", `# Recursão

Uma função recursiva chama a si mesma até atingir um caso base.

## Caso base

O caso base interrompe a recursão e evita um estouro de pilha.

## Exemplo

O fatorial de n é n vezes o fatorial de n menos um.
`)

	chunks, err := File(path, Meta{Subject: "programacao", Difficulty: "beginner", Tags: []string{"recursao"}}, Options{})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "Recursão", chunks[0].Title)
	assert.Equal(t, "Recursão / Caso base", chunks[1].Title)
	assert.Contains(t, chunks[1].Body, "estouro de pilha")
	for i, c := range chunks {
		assert.Equal(t, "programacao", c.Subject)
		assert.Equal(t, "beginner", c.Difficulty)
		assert.Equal(t, []string{"recursao"}, c.Tags)
		assert.True(t, strings.HasSuffix(c.ID, "#"+string(rune('1'+i))), c.ID)
	}
}

func TestFile_StableIDs(t *testing.T) {
	path := writeFile(t, "notes.txt", "Loops repeat a block of code while a condition holds.")
	a, err := File(path, Meta{}, Options{})
	require.NoError(t, err)
	b, err := File(path, Meta{}, Options{})
	require.NoError(t, err)
	require.Len(t, a, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
	assert.Equal(t, "notes", a[0].Title)
}

func TestSplit_RespectsMaxTokens(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 60; i++ {
		sb.WriteString("Each sentence adds a little more material to the lesson. ")
	}
	doc := Document{Title: "Long", Body: sb.String(), Source: "long.txt"}

	chunks := Split(doc, Meta{}, Options{MaxTokens: 50})
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, retrieval.EstimateTokens(c.Body), 50)
	}
}

func TestSplit_DropsTinyPieces(t *testing.T) {
	doc := Document{Title: "T", Body: "# A\n\nok\n\n# B\n\nThis paragraph is long enough to keep.", Source: "t.md"}
	chunks := Split(doc, Meta{}, Options{})
	require.Len(t, chunks, 1)
	assert.Equal(t, "T / B", chunks[0].Title)
}

func TestParseFile_HTML(t *testing.T) {
	path := writeFile(t, "page.html", `<html><head><title>Closures</title></head><body>
<article><h1>Closures</h1>
<p>A closure captures variables from the scope where it was defined, so the function keeps access to them after that scope returns.</p>
<p>Closures are commonly used for callbacks, iterators and for building functions with preset arguments in many languages.</p>
</article></body></html>`)

	doc, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Closures", doc.Title)
	assert.Contains(t, doc.Body, "captures variables")
	assert.NotContains(t, doc.Body, "<p>")
}

func TestParseFile_Unsupported(t *testing.T) {
	path := writeFile(t, "data.bin", "x")
	_, err := ParseFile(path)
	assert.Error(t, err)
	assert.False(t, Supported(path))
	assert.True(t, Supported("a/B.PDF"))
}

func TestRowsToMarkdown(t *testing.T) {
	out := rowsToMarkdown([][]string{{"term", "meaning"}, {"a|b", "pipe"}, {"short"}})
	assert.Equal(t, "| term | meaning |\n| --- | --- |\n| a\\|b | pipe |\n| short |  |\n", out)
	assert.Empty(t, rowsToMarkdown(nil))
}

func TestFile_SpreadsheetRowsBecomeChunks(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]string{"ID", "Title", "Body", "Difficulty", "Tags"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]string{"rec-1", "Recursão", "Uma função que chama a si mesma.", "beginner", "recursao, funcoes"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]string{"", "Sem corpo", "", "", ""}))
	require.NoError(t, f.SetSheetRow(sheet, "A4", &[]string{"", "Pilha", "A pilha guarda as chamadas pendentes.", "", ""}))
	path := filepath.Join(t.TempDir(), "bank.xlsx")
	require.NoError(t, f.SaveAs(path))

	chunks, err := File(path, Meta{Subject: "programacao", Difficulty: "intermediate"}, Options{})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "rec-1", chunks[0].ID)
	assert.Equal(t, []string{"recursao", "funcoes"}, chunks[0].Tags)
	assert.Equal(t, "beginner", chunks[0].Difficulty)
	assert.Equal(t, "programacao", chunks[0].Subject)

	assert.NotEmpty(t, chunks[1].ID)
	assert.Equal(t, "intermediate", chunks[1].Difficulty)
}

func TestFile_SpreadsheetWithoutBodyBecomesTable(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]string{"Operador", "Significado"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]string{"==", "igualdade entre dois valores"}))
	path := filepath.Join(t.TempDir(), "glossario.xlsx")
	require.NoError(t, f.SaveAs(path))

	chunks, err := File(path, Meta{}, Options{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "table", chunks[0].ContentType)
	assert.Contains(t, chunks[0].Body, "| Operador | Significado |")
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "docs-aula-01-md", Slug("docs/Aula 01.md"))
	assert.Equal(t, "https-example-com-a-b", Slug("https://example.com/a/b"))
}
