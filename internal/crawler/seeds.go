package crawler

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoSeeds is returned when a seed list holds no usable URL.
var ErrNoSeeds = errors.New("no valid seed urls")

// SeedList is the parsed content of a seed file.
type SeedList struct {
	URLs    []string
	Invalid []string
}

// LoadSeeds reads a seed file. A missing or empty file is a configuration error.
func LoadSeeds(path string) (SeedList, error) {
	f, err := os.Open(path) // #nosec G304 -- operator supplied seed file.
	if err != nil {
		return SeedList{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	seeds, err := ParseSeeds(f)
	if err != nil {
		return SeedList{}, err
	}
	if len(seeds.URLs) == 0 {
		return seeds, fmt.Errorf("%s: %w", path, ErrNoSeeds)
	}
	return seeds, nil
}

// ParseSeeds reads one URL per line. Blank lines and '#' comments are skipped;
// anything that is not an http(s) URL is collected in Invalid. Duplicates are dropped.
func ParseSeeds(r io.Reader) (SeedList, error) {
	var (
		out  SeedList
		seen = make(map[string]struct{})
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.ToValidUTF8(scanner.Text(), ""))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.HasPrefix(line, "http://") && !strings.HasPrefix(line, "https://") {
			out.Invalid = append(out.Invalid, line)
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out.URLs = append(out.URLs, line)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("scan seeds: %w", err)
	}
	return out, nil
}
