package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.md", "sub/b.txt", "sub/deep/c.pdf", "sub/skip.go", "notes.html"} {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}

	t.Run("directory walks recursively", func(t *testing.T) {
		files, err := Collect([]string{filepath.Join(root, "sub")})
		require.NoError(t, err)
		assert.Equal(t, []string{
			filepath.Join(root, "sub", "b.txt"),
			filepath.Join(root, "sub", "deep", "c.pdf"),
		}, files)
	})

	t.Run("globs dedupe", func(t *testing.T) {
		files, err := Collect([]string{filepath.Join(root, "**", "*.md"), filepath.Join(root, "a.md")})
		require.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(root, "a.md")}, files)
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := Collect([]string{filepath.Join(root, "nope.md")})
		assert.Error(t, err)
	})

	t.Run("unsupported explicit file", func(t *testing.T) {
		_, err := Collect([]string{filepath.Join(root, "sub", "skip.go")})
		assert.Error(t, err)
	})
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://example.org/lesson"))
	assert.True(t, IsURL("http://localhost:8000"))
	assert.False(t, IsURL("lessons/recursion.md"))
}
