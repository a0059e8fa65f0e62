// Package handoff manages the image-links file that carries discovered image
// URLs from a crawl pass to a later download pass.
package handoff

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// File is a newline-delimited list of image URLs. Appends go straight to disk
// so a crawl interrupted halfway still leaves its discoveries behind.
type File struct {
	mu   sync.Mutex
	path string
}

// Open returns a File at path, creating its directory.
func Open(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("handoff path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create handoff dir: %w", err)
	}
	return &File{path: path}, nil
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Append adds one URL line.
func (f *File) Append(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open handoff file: %w", err)
	}
	if _, err := out.WriteString(rawURL + "\n"); err != nil {
		_ = out.Close()
		return fmt.Errorf("append handoff url: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close handoff file: %w", err)
	}
	return nil
}

// Load returns the URLs in file order, without blanks or repeats. Invalid
// UTF-8 is dropped from each line rather than failing the load. A missing
// file yields no URLs.
func (f *File) Load() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines, err := f.readLines()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(lines))
	urls := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		urls = append(urls, line)
	}
	return urls, nil
}

// Remove drops every line whose canonical form is one of canonicalURLs, in
// a single pass over the file. The file is rewritten through a temp file and
// rename so a crash leaves either the old or the new contents.
func (f *File) Remove(canonicalURLs ...string) error {
	if len(canonicalURLs) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(canonicalURLs))
	for _, u := range canonicalURLs {
		drop[u] = struct{}{}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	lines, err := f.readLines()
	if err != nil {
		return err
	}
	kept := lines[:0]
	removed := false
	for _, line := range lines {
		if line == "" {
			continue
		}
		_, exact := drop[line]
		_, canonical := drop[crawler.Canonicalize(line)]
		if exact || canonical {
			removed = true
			continue
		}
		kept = append(kept, line)
	}
	if !removed {
		return nil
	}
	return f.rewrite(kept)
}

func (f *File) readLines() ([]string, error) {
	in, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open handoff file: %w", err)
	}
	defer func() {
		_ = in.Close()
	}()
	var lines []string
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(strings.ToValidUTF8(scanner.Text(), "")))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read handoff file: %w", err)
	}
	return lines, nil
}

func (f *File) rewrite(lines []string) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create handoff temp: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return fmt.Errorf("write handoff temp: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("flush handoff temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close handoff temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace handoff file: %w", err)
	}
	return nil
}
