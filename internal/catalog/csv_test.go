package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func sampleItem(i int) crawler.CatalogItem {
	return crawler.CatalogItem{
		Name:            "Red T-Shirt",
		ClothingType:    "T-Shirt",
		Category:        "top",
		PrimaryColor:    "red",
		SecondaryColors: []string{"white", "navy"},
		Description:     "Added by catalog-crawler on 2024-03-09, with \"quotes\"",
		ImageFilename:   fmt.Sprintf("red-t-shirt-%012d.jpg", i),
		Visibility:      "public",
	}
}

func TestCSVWriterWritesHeaderOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out", "catalog.csv")

	w, err := OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, sampleItem(1)))
	require.NoError(t, w.Close())

	w, err = OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, sampleItem(2)))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), strings.Join(Header, ",")))

	items, err := ReadCSV(path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, []string{"white", "navy"}, items[0].SecondaryColors)
	assert.Equal(t, sampleItem(1).Description, items[0].Description)
	assert.Nil(t, items[0].StyleTags)
	assert.Equal(t, "public", items[1].Visibility)
}

func TestCSVWriterRepairsTornTail(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(Header, ",")), 0o600))

	w, err := OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(context.Background(), sampleItem(1)))
	require.NoError(t, w.Close())

	items, err := ReadCSV(path)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestCSVWriterConcurrentAppendsProduceWholeRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.csv")
	w, err := OpenCSV(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Append(context.Background(), sampleItem(i)))
		}()
	}
	wg.Wait()
	require.NoError(t, w.Close())
	require.Error(t, w.Append(context.Background(), sampleItem(99)))

	items, err := ReadCSV(path)
	require.NoError(t, err)
	assert.Len(t, items, 50)
}

func TestFromRowRejectsWrongWidth(t *testing.T) {
	t.Parallel()

	_, err := FromRow([]string{"a", "b"})
	require.Error(t, err)
}

func TestOpenSelectsBackend(t *testing.T) {
	t.Parallel()

	w, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "c.csv")})
	require.NoError(t, err)
	assert.IsType(t, &CSVWriter{}, w)
	require.NoError(t, w.Close())

	_, err = Open(context.Background(), Config{Backend: "parquet"})
	require.ErrorContains(t, err, "unknown catalog backend")

	_, err = Open(context.Background(), Config{Backend: BackendPostgres})
	require.ErrorContains(t, err, "postgres_dsn")
}

// syncFailFile lets writes land and then fails the next failures syncs.
type syncFailFile struct {
	*os.File
	failures int
}

func (f *syncFailFile) Sync() error {
	if f.failures > 0 {
		f.failures--
		return errors.New("input/output error")
	}
	return f.File.Sync()
}

func TestCSVWriterFailedSyncLeavesNoRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.csv")
	w, err := OpenCSV(path)
	require.NoError(t, err)
	flaky := &syncFailFile{File: w.file.(*os.File), failures: 2}
	w.file = flaky

	require.Error(t, w.Append(ctx, sampleItem(1)))
	require.Error(t, w.Append(ctx, sampleItem(1)))
	require.NoError(t, w.Append(ctx, sampleItem(1)))
	require.NoError(t, w.Close())

	items, err := ReadCSV(path)
	require.NoError(t, err)
	require.Len(t, items, 1, "a retried append must not duplicate the row")
	assert.Equal(t, sampleItem(1).ImageFilename, items[0].ImageFilename)
}
