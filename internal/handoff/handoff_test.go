package handoff

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func TestAppendAndLoad(t *testing.T) {
	t.Parallel()

	f, err := Open(filepath.Join(t.TempDir(), "out", "image_links.txt"))
	require.NoError(t, err)

	urls, err := f.Load()
	require.NoError(t, err)
	assert.Empty(t, urls, "missing file loads as empty")

	for _, u := range []string{"https://cdn.test/a.jpg", "  ", "https://cdn.test/b.jpg", "https://cdn.test/a.jpg"} {
		require.NoError(t, f.Append(u))
	}
	urls, err = f.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.test/a.jpg", "https://cdn.test/b.jpg"}, urls)
}

func TestLoadDropsInvalidUTF8(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "image_links.txt")
	require.NoError(t, os.WriteFile(path, []byte("https://cdn.test/\xffa.jpg\r\n\nhttps://cdn.test/b.jpg\n"), 0o600))

	f, err := Open(path)
	require.NoError(t, err)
	urls, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.test/a.jpg", "https://cdn.test/b.jpg"}, urls)
}

func TestRemoveMatchesCanonicalForm(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "image_links.txt")
	f, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, f.Append("https://cdn.test/a.jpg?utm_source=mail"))
	require.NoError(t, f.Append("https://cdn.test/b.jpg"))
	require.NoError(t, f.Append("https://cdn.test/a.jpg#zoom"))

	require.NoError(t, f.Remove(crawler.Canonicalize("https://cdn.test/a.jpg")))
	urls, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.test/b.jpg"}, urls)

	require.NoError(t, f.Remove("https://cdn.test/unknown.jpg"))
	require.NoError(t, f.Remove("https://cdn.test/b.jpg"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestRemoveManyInOnePass(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "image_links.txt")
	f, err := Open(path)
	require.NoError(t, err)
	for _, u := range []string{"https://cdn.test/a.jpg", "https://cdn.test/b.jpg?utm_medium=ad", "https://cdn.test/c.jpg"} {
		require.NoError(t, f.Append(u))
	}

	require.NoError(t, f.Remove())
	require.NoError(t, f.Remove("https://cdn.test/a.jpg", crawler.Canonicalize("https://cdn.test/b.jpg")))
	urls, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.test/c.jpg"}, urls)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open("")
	require.Error(t, err)
}

var (
	_ crawler.LinkSink    = (*File)(nil)
	_ crawler.LinkRemover = (*File)(nil)
)
