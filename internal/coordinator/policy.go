package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Labels used when no classifier is configured.
const (
	UnclassifiedLabel    = "Unclassified"
	UncategorizedLabel   = "uncategorized"
	unknownColor         = "unknown"
	maxSecondaryColors   = 2
	hashPrefixLen        = 12
	publicVisibility     = "public"
	descriptionDayFormat = "2006-01-02"
)

var rejectedLabels = map[string]struct{}{
	"Not sure": {},
	"Other":    {},
	"Skip":     {},
}

// categories maps classifier labels to catalog categories.
var categories = map[string]string{
	"Blouse":     "top",
	"Body":       "top",
	"Polo":       "top",
	"Shirt":      "top",
	"T-Shirt":    "top",
	"Top":        "top",
	"Undershirt": "top",
	"Longsleeve": "top",
	"Pants":      "bottom",
	"Shorts":     "bottom",
	"Skirt":      "bottom",
	"Blazer":     "outerwear",
	"Hoodie":     "outerwear",
	"Outwear":    "outerwear",
	"Dress":      "outerwear",
	"Shoes":      "shoes",
	"Hat":        "accessory",
}

// CategoryFor returns the catalog category of a classifier label.
func CategoryFor(label string) (string, bool) {
	category, ok := categories[label]
	return category, ok
}

// evaluate runs the collaborators in order: body filter, text filter,
// classifier, colors. The returned outcome carries the catalog item when
// the artifact is accepted.
func (c *Coordinator) evaluate(ctx context.Context, artifact crawler.DownloadedArtifact) crawler.Outcome {
	if err := c.cpu.Acquire(ctx, 1); err != nil {
		return crawler.Outcome{Kind: crawler.OutcomeFailed, Reason: "canceled", Err: err}
	}
	defer c.cpu.Release(1)

	if c.detect(ctx, c.collab.BodyFilter, "body", artifact.Path) {
		return crawler.Outcome{Kind: crawler.OutcomeRejectedBodyDetected, Reason: "person detected"}
	}
	if c.detect(ctx, c.collab.TextFilter, "text", artifact.Path) {
		return crawler.Outcome{Kind: crawler.OutcomeRejectedText, Reason: "text detected"}
	}

	label, category := UnclassifiedLabel, UncategorizedLabel
	if c.collab.Classifier != nil {
		var rejected *crawler.Outcome
		label, category, rejected = c.classify(ctx, artifact.Path)
		if rejected != nil {
			return *rejected
		}
	}

	colors := c.colors(ctx, artifact.Path)
	item := c.buildItem(artifact, label, category, colors)
	return crawler.Outcome{Kind: crawler.OutcomeAccepted, Item: &item}
}

// detect treats filter errors as "nothing detected" so a flaky filter
// never blocks the pipeline. The error is logged.
func (c *Coordinator) detect(ctx context.Context, filter crawler.ContentFilter, name, path string) bool {
	if filter == nil {
		return false
	}
	found, err := filter.Detect(ctx, path)
	if err != nil {
		c.logger.Warn("content filter failed", zap.String("filter", name), zap.String("path", path), zap.Error(err))
		return false
	}
	return found
}

// classify returns the label and category, or a non-nil rejecting outcome.
func (c *Coordinator) classify(ctx context.Context, path string) (string, string, *crawler.Outcome) {
	result, err := c.collab.Classifier.Classify(ctx, path)
	switch {
	case errors.Is(err, crawler.ErrUnclassifiable):
		return "", "", &crawler.Outcome{Kind: crawler.OutcomeRejectedCategory, Reason: "unclassifiable", Err: err}
	case err != nil:
		return "", "", &crawler.Outcome{Kind: crawler.OutcomeFailed, Reason: "classifier error", Err: fmt.Errorf("classify: %w", err)}
	}

	label := strings.TrimSpace(result.Label)
	if _, bad := rejectedLabels[label]; bad {
		return "", "", &crawler.Outcome{Kind: crawler.OutcomeRejectedCategory, Reason: "label " + label}
	}
	if result.Confidence < c.cfg.MinConfidence {
		return "", "", &crawler.Outcome{
			Kind:   crawler.OutcomeRejectedLowConfidence,
			Reason: fmt.Sprintf("%s at %.2f", label, result.Confidence),
		}
	}
	category, ok := CategoryFor(label)
	if !ok {
		return "", "", &crawler.Outcome{Kind: crawler.OutcomeRejectedCategory, Reason: "uncategorised label " + label}
	}
	return label, category, nil
}

func (c *Coordinator) colors(ctx context.Context, path string) []string {
	if c.collab.Colors == nil {
		return []string{unknownColor}
	}
	colors, err := c.collab.Colors.Extract(ctx, path)
	if err != nil {
		c.logger.Warn("color extraction failed", zap.String("path", path), zap.Error(err))
		return []string{unknownColor}
	}
	if len(colors) == 0 {
		return []string{unknownColor}
	}
	return colors
}

func (c *Coordinator) buildItem(artifact crawler.DownloadedArtifact, label, category string, colors []string) crawler.CatalogItem {
	primary := colors[0]
	secondary := colors[1:]
	if len(secondary) > maxSecondaryColors {
		secondary = secondary[:maxSecondaryColors]
	}
	now := c.clock.Now().UTC()
	return crawler.CatalogItem{
		Name:            capitalize(primary) + " " + label,
		ClothingType:    label,
		Category:        category,
		PrimaryColor:    primary,
		SecondaryColors: append([]string{}, secondary...),
		Description:     "Added by catalog-crawler on " + now.Format(descriptionDayFormat),
		ImageFilename:   FinalFilename(primary, label, artifact.Hash),
		Visibility:      publicVisibility,
		SourceURL:       artifact.URL,
		Hash:            artifact.Hash,
		AddedAt:         now,
	}
}

// FinalFilename names an accepted image "<color>-<type>-<hash prefix>.jpg".
func FinalFilename(color, label, hash string) string {
	if len(hash) > hashPrefixLen {
		hash = hash[:hashPrefixLen]
	}
	return slug(color) + "-" + slug(label) + "-" + hash + ".jpg"
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "item"
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// discard removes an artifact that will not be accepted.
func (c *Coordinator) discard(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("failed to remove rejected artifact", zap.String("path", path), zap.Error(err))
	}
}
