package crawler

import (
	"net/url"
	"slices"
	"strings"
)

// DefaultBlockedHosts are ad and analytics hosts whose "images" are tracking pixels.
var DefaultBlockedHosts = []string{
	"*.doubleclick.net",
	"*.google-analytics.com",
	"*.googletagmanager.com",
	"*.facebook.com",
	"*.bing.com",
}

// hostPatterns matches hosts against exact names and "*.suffix" wildcards.
type hostPatterns struct {
	exact    map[string]struct{}
	suffixes []string
}

// newHostPatterns returns nil when no usable pattern is given.
func newHostPatterns(patterns []string) *hostPatterns {
	m := &hostPatterns{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			m.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			m.addSuffix(strings.TrimPrefix(value, "."))
		default:
			m.exact[value] = struct{}{}
		}
	}
	if len(m.exact) == 0 && len(m.suffixes) == 0 {
		return nil
	}
	return m
}

func (m *hostPatterns) addSuffix(suffix string) {
	if suffix != "" && !slices.Contains(m.suffixes, suffix) {
		m.suffixes = append(m.suffixes, suffix)
	}
}

// Matches reports whether the host of rawURL is covered. A nil matcher matches nothing.
func (m *hostPatterns) Matches(rawURL string) bool {
	if m == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	if _, ok := m.exact[host]; ok {
		return true
	}
	for _, suffix := range m.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
