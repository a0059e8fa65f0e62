package dedup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps hashes in memory and appends each commit to a
// newline-delimited file. The file is only appended to, except that a commit
// whose write or sync fails is truncated away.
type FileStore struct {
	mu   sync.RWMutex
	path string
	seen map[string]struct{}
	file hashFile
}

type hashFile interface {
	io.Writer
	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Close() error
}

// OpenFile loads every hash in path and opens it for appending. A missing
// file is created empty.
func OpenFile(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("dedup file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dedup dir: %w", err)
	}
	seen, needsNewline, err := loadHashes(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open dedup file: %w", err)
	}
	// A crash mid-write can leave the last line unterminated.
	if needsNewline {
		if _, err := f.WriteString("\n"); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("repair dedup file: %w", err)
		}
	}
	return &FileStore{path: path, seen: seen, file: f}, nil
}

func loadHashes(path string) (map[string]struct{}, bool, error) {
	seen := make(map[string]struct{})
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return seen, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open dedup file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if hash := strings.TrimSpace(scanner.Text()); hash != "" {
			seen[hash] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("read dedup file: %w", err)
	}

	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return seen, false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, fmt.Errorf("read dedup file tail: %w", err)
	}
	return seen, last[0] != '\n', nil
}

// Seen reports whether hash was committed.
func (s *FileStore) Seen(_ context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[hash]
	return ok, nil
}

// Commit appends hash to the file and syncs it before marking it seen.
// Committing a known hash is a no-op.
func (s *FileStore) Commit(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[hash]; ok {
		return nil
	}
	if s.file == nil {
		return errors.New("dedup store closed")
	}
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("stat dedup file: %w", err)
	}
	if _, err := io.WriteString(s.file, hash+"\n"); err != nil {
		return s.rollback(info.Size(), fmt.Errorf("append dedup hash: %w", err))
	}
	if err := s.file.Sync(); err != nil {
		return s.rollback(info.Size(), fmt.Errorf("sync dedup file: %w", err))
	}
	s.seen[hash] = struct{}{}
	return nil
}

func (s *FileStore) rollback(size int64, cause error) error {
	if err := s.file.Truncate(size); err != nil {
		return errors.Join(cause, fmt.Errorf("truncate dedup file: %w", err))
	}
	return cause
}

// Len returns the number of known hashes.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

// Close closes the backing file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close dedup file: %w", err)
	}
	return nil
}
