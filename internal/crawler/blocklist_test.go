package crawler

import "testing"

func TestHostPatterns(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		m := newHostPatterns([]string{"pixel.example.org"})
		if !m.Matches("https://pixel.example.org/p.png") {
			t.Fatalf("expected pixel.example.org to match")
		}
		if m.Matches("https://cdn.pixel.example.org/p.png") {
			t.Fatalf("did not expect subdomains to match an exact entry")
		}
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		m := newHostPatterns([]string{"*.doubleclick.net", ".Tracker.IO"})
		cases := []struct {
			url     string
			blocked bool
		}{
			{"https://ad.doubleclick.net/x.gif", true},
			{"https://doubleclick.net/x.gif", true},
			{"https://a.b.tracker.io:8443/t.png", true},
			{"https://shop.example.com/a.jpg", false},
			{"not a url", false},
		}
		for _, tc := range cases {
			if got := m.Matches(tc.url); got != tc.blocked {
				t.Fatalf("%q blocked=%v, want %v", tc.url, got, tc.blocked)
			}
		}
	})

	t.Run("empty and nil", func(t *testing.T) {
		if m := newHostPatterns([]string{" ", "*."}); m != nil {
			t.Fatalf("expected nil matcher for unusable patterns")
		}
		var m *hostPatterns
		if m.Matches("https://anything.example/") {
			t.Fatalf("nil matcher should never match")
		}
	})
}
