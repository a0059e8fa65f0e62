package crawler

import (
	"net/http"
	"time"
)

// FetchRequest captures everything needed to fetch a page.
type FetchRequest struct {
	URL     string
	Depth   int
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// CrawlTask is one pending page in the frontier.
type CrawlTask struct {
	URL   string
	Depth int
}

// DownloadedArtifact is a validated, normalized image waiting in temporary storage.
type DownloadedArtifact struct {
	URL           string
	Hash          string
	Path          string
	Bytes         int64
	ContentLength int64
	Width         int
	Height        int
	ColorMode     string
}

// Classification is the label a classifier assigns to an artifact.
type Classification struct {
	Label      string
	Confidence float64
}

// CatalogItem is one accepted row of the catalog.
type CatalogItem struct {
	Name            string    `json:"name"`
	ClothingType    string    `json:"clothing_type"`
	Category        string    `json:"category"`
	Brand           string    `json:"brand"`
	Size            string    `json:"size"`
	PrimaryColor    string    `json:"primary_color"`
	SecondaryColors []string  `json:"secondary_colors"`
	StyleTags       []string  `json:"style_tags"`
	WeatherTags     []string  `json:"weather_tags"`
	Season          string    `json:"season"`
	Description     string    `json:"description"`
	ImageFilename   string    `json:"image_filename"`
	Visibility      string    `json:"visibility"`
	SourceURL       string    `json:"source_url"`
	Hash            string    `json:"hash"`
	AddedAt         time.Time `json:"added_at"`
}

// OutcomeKind enumerates the terminal states of one discovered image.
type OutcomeKind int

// Outcome kinds reported by the coordinator.
const (
	OutcomeAccepted OutcomeKind = iota
	OutcomeDuplicate
	OutcomeRejectedBodyDetected
	OutcomeRejectedText
	OutcomeRejectedLowConfidence
	OutcomeRejectedCategory
	OutcomeRejectedValidation
	OutcomeAbandoned
	OutcomeFailed
)

var outcomeNames = map[OutcomeKind]string{
	OutcomeAccepted:              "accepted",
	OutcomeDuplicate:             "duplicate",
	OutcomeRejectedBodyDetected:  "rejected_body",
	OutcomeRejectedText:          "rejected_text",
	OutcomeRejectedLowConfidence: "rejected_low_confidence",
	OutcomeRejectedCategory:      "rejected_category",
	OutcomeRejectedValidation:    "rejected_validation",
	OutcomeAbandoned:             "abandoned",
	OutcomeFailed:                "failed",
}

// String returns the metric/log label for the kind.
func (k OutcomeKind) String() string {
	if name, ok := outcomeNames[k]; ok {
		return name
	}
	return "unknown"
}

// Outcome is the result of running one image URL through the pipeline.
// Item is set only for OutcomeAccepted; Err carries the cause of abandon and failure kinds.
type Outcome struct {
	Kind   OutcomeKind
	URL    string
	Hash   string
	Reason string
	Item   *CatalogItem
	Err    error
}

// Rejected reports whether the outcome is one of the content rejections.
func (o Outcome) Rejected() bool {
	switch o.Kind {
	case OutcomeRejectedBodyDetected, OutcomeRejectedText, OutcomeRejectedLowConfidence,
		OutcomeRejectedCategory, OutcomeRejectedValidation:
		return true
	default:
		return false
	}
}
