package catalog

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// CSVWriter appends catalog rows to a CSV file. Each row reaches the file in
// a single write followed by fsync. A row whose write or sync fails is
// truncated away, so a retried Append never leaves a second copy behind.
type CSVWriter struct {
	mu   sync.Mutex
	path string
	file appendFile
}

// appendFile is the subset of *os.File the writer uses.
type appendFile interface {
	io.Writer
	io.ReaderAt
	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Close() error
}

// OpenCSV opens path for appending, writing the header when the file is new or empty.
func OpenCSV(path string) (*CSVWriter, error) {
	if path == "" {
		return nil, errors.New("catalog path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	w := &CSVWriter{path: path, file: f}
	if err := w.prepare(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func (w *CSVWriter) prepare() error {
	info, err := w.file.Stat()
	if err != nil {
		return fmt.Errorf("stat catalog: %w", err)
	}
	if info.Size() == 0 {
		return w.writeRecord(Header)
	}
	last := make([]byte, 1)
	if _, err := w.file.ReadAt(last, info.Size()-1); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read catalog tail: %w", err)
	}
	if last[0] != '\n' {
		if _, err := w.file.Write([]byte("\n")); err != nil {
			return fmt.Errorf("repair catalog tail: %w", err)
		}
	}
	return nil
}

// Append writes one row for item.
func (w *CSVWriter) Append(_ context.Context, item crawler.CatalogItem) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return errors.New("catalog writer closed")
	}
	return w.writeRecord(Row(item))
}

func (w *CSVWriter) writeRecord(record []string) error {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(record); err != nil {
		return fmt.Errorf("encode catalog row: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("encode catalog row: %w", err)
	}
	info, err := w.file.Stat()
	if err != nil {
		return fmt.Errorf("stat catalog: %w", err)
	}
	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return w.rollback(info.Size(), fmt.Errorf("write catalog row: %w", err))
	}
	if err := w.file.Sync(); err != nil {
		return w.rollback(info.Size(), fmt.Errorf("sync catalog: %w", err))
	}
	return nil
}

// rollback cuts the file back to size after a failed write.
func (w *CSVWriter) rollback(size int64, cause error) error {
	if err := w.file.Truncate(size); err != nil {
		return errors.Join(cause, fmt.Errorf("truncate catalog: %w", err))
	}
	return cause
}

// Path returns the catalog file location.
func (w *CSVWriter) Path() string {
	return w.path
}

// Close closes the catalog file.
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return fmt.Errorf("close catalog: %w", err)
	}
	return nil
}

// ReadCSV loads every item in the catalog at path, skipping the header.
func ReadCSV(path string) ([]crawler.CatalogItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	items := make([]crawler.CatalogItem, 0, len(records)-1)
	for _, record := range records[1:] {
		item, err := FromRow(record)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
