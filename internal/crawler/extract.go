package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// imageSourceAttrs are checked in order; lazy-loading shops often leave src empty.
var imageSourceAttrs = []string{"src", "data-src", "data-lazy-src"}

// PageLinks holds the absolute canonical URLs found in one HTML page.
type PageLinks struct {
	Images []string
	Links  []string
}

// ExtractLinks parses body and returns the image sources and anchors it references,
// resolved against pageURL (or the document's <base href> when present).
func ExtractLinks(pageURL string, body []byte) (PageLinks, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return PageLinks{}, fmt.Errorf("parse html: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return PageLinks{}, fmt.Errorf("parse page url: %w", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, perr := url.Parse(strings.TrimSpace(href)); perr == nil {
			base = base.ResolveReference(ref)
		}
	}

	var out PageLinks
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := firstAttr(s, imageSourceAttrs...)
		if src == "" || strings.HasPrefix(strings.ToLower(src), "data:") {
			return
		}
		if abs, ok := Resolve(base, src); ok {
			out.Images = append(out.Images, abs)
		}
	})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if abs, ok := Resolve(base, href); ok {
			out.Links = append(out.Links, abs)
		}
	})
	return out, nil
}

func firstAttr(s *goquery.Selection, names ...string) string {
	for _, name := range names {
		if v, ok := s.Attr(name); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}
