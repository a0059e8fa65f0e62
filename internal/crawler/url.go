package crawler

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// trackingParams are query keys stripped during canonicalization. Matching is case-insensitive.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"fbclid":       {},
	"gclid":        {},
	"msclkid":      {},
	"ref":          {},
	"referrer":     {},
	"source":       {},
	"campaign":     {},
	"_ga":          {},
	"_gl":          {},
	"mc_cid":       {},
	"mc_eid":       {},
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

var nonPageExtensions = []string{
	".jpg", ".jpeg", ".png", ".gif", ".pdf", ".zip",
	".css", ".js", ".xml", ".json", ".webp", ".avif",
}

var nonPagePrefixes = []string{"#", "javascript:", "mailto:", "tel:"}

// Canonicalize returns the stable form of rawURL used for equality and hashing.
// The fragment and tracking parameters are dropped and the remaining query pairs
// are ordered by key, keeping their original encoding. Scheme, host and path are
// left as parsed. Unparseable input is returned unchanged.
func Canonicalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = canonicalQuery(u.RawQuery)
	return u.String()
}

func canonicalQuery(raw string) string {
	if raw == "" {
		return ""
	}
	pairs := strings.Split(raw, "&")
	kept := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		if _, tracked := trackingParams[strings.ToLower(queryKey(pair))]; tracked {
			continue
		}
		kept = append(kept, pair)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return queryKey(kept[i]) < queryKey(kept[j])
	})
	return strings.Join(kept, "&")
}

func queryKey(pair string) string {
	key, _, _ := strings.Cut(pair, "=")
	if decoded, err := url.QueryUnescape(key); err == nil {
		return decoded
	}
	return key
}

// HashURL digests the canonical form of rawURL.
func HashURL(h Hasher, rawURL string) (string, error) {
	sum, err := h.Hash([]byte(Canonicalize(rawURL)))
	if err != nil {
		return "", fmt.Errorf("hash url: %w", err)
	}
	return sum, nil
}

// Resolve turns an href found on base into an absolute canonical http(s) URL.
func Resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || hasNonPagePrefix(href) {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return Canonicalize(abs.String()), true
}

func hasNonPagePrefix(href string) bool {
	lower := strings.ToLower(href)
	for _, prefix := range nonPagePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// IsImageURL accepts URLs with a known image extension, or whose text mentions an image.
func IsImageURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, allowed := range imageExtensions {
		if ext == allowed {
			return true
		}
	}
	lower := strings.ToLower(rawURL)
	return strings.Contains(lower, "image") || strings.Contains(lower, "img")
}

// IsPageURL rejects links that point at assets rather than HTML pages.
func IsPageURL(rawURL string) bool {
	if hasNonPagePrefix(rawURL) {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	for _, ext := range nonPageExtensions {
		if strings.HasSuffix(p, ext) {
			return false
		}
	}
	return true
}

// SameHost reports whether both URLs share the exact host (port included).
func SameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Host != "" && ua.Host == ub.Host
}
