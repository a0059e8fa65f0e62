package coordinator

import (
	"maps"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Report summarizes a run. Rejected is keyed by outcome label.
type Report struct {
	Total      int            `json:"total"`
	Duplicates int            `json:"duplicates"`
	Accepted   int            `json:"accepted"`
	Abandoned  int            `json:"abandoned"`
	Failed     int            `json:"failed"`
	Rejected   map[string]int `json:"rejected"`
}

// RejectedTotal sums every rejection reason.
func (r Report) RejectedTotal() int {
	total := 0
	for _, n := range r.Rejected {
		total += n
	}
	return total
}

// Log writes the summary line.
func (r Report) Log(logger *zap.Logger) {
	if logger == nil {
		return
	}
	logger.Info("pipeline summary",
		zap.Int("total", r.Total),
		zap.Int("duplicates", r.Duplicates),
		zap.Int("accepted", r.Accepted),
		zap.Int("rejected", r.RejectedTotal()),
		zap.Any("rejected_by_reason", r.Rejected),
		zap.Int("abandoned", r.Abandoned),
		zap.Int("failed", r.Failed),
	)
}

type recorder struct {
	mu     *sync.Mutex
	report *Report
}

func newRecorder() recorder {
	return recorder{mu: &sync.Mutex{}, report: &Report{Rejected: map[string]int{}}}
}

func (r recorder) record(outcome crawler.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Total++
	switch {
	case outcome.Kind == crawler.OutcomeAccepted:
		r.report.Accepted++
	case outcome.Kind == crawler.OutcomeDuplicate:
		r.report.Duplicates++
	case outcome.Kind == crawler.OutcomeAbandoned:
		r.report.Abandoned++
	case outcome.Rejected():
		r.report.Rejected[outcome.Kind.String()]++
	default:
		r.report.Failed++
	}
}

func (r recorder) snapshot() Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := *r.report
	out.Rejected = maps.Clone(r.report.Rejected)
	return out
}
