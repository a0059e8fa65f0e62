package api

import (
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Run phases reported by the status endpoint.
const (
	PhaseStarting    = "starting"
	PhaseCrawling    = "crawling"
	PhaseDownloading = "downloading"
	PhaseDone        = "done"
)

// Status is the body of GET /v1/status.
type Status struct {
	RunID     string    `json:"run_id"`
	Command   string    `json:"command"`
	Phase     string    `json:"phase"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
	Ready     bool      `json:"ready"`
	Report    any       `json:"report,omitempty"`
}

// Tracker records the state of the current run. It is safe for concurrent use.
type Tracker struct {
	clock   crawler.Clock
	runID   string
	command string
	started time.Time

	mu     sync.RWMutex
	phase  string
	ready  bool
	report func() any
}

// NewTracker starts tracking a run.
func NewTracker(runID, command string, clock crawler.Clock) *Tracker {
	return &Tracker{
		clock:   clock,
		runID:   runID,
		command: command,
		started: clock.Now(),
		phase:   PhaseStarting,
	}
}

// SetPhase moves the run to phase.
func (t *Tracker) SetPhase(phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phase
}

// MarkReady flips /readyz to 200 once stores are open.
func (t *Tracker) MarkReady() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ready = true
}

// Ready reports whether MarkReady was called.
func (t *Tracker) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Attach sets the function that snapshots live counters.
func (t *Tracker) Attach(report func() any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report = report
}

// Snapshot returns the current status.
func (t *Tracker) Snapshot() Status {
	t.mu.RLock()
	phase, ready, report := t.phase, t.ready, t.report
	t.mu.RUnlock()

	s := Status{
		RunID:     t.runID,
		Command:   t.command,
		Phase:     phase,
		StartedAt: t.started,
		Uptime:    t.clock.Now().Sub(t.started).Truncate(time.Second).String(),
		Ready:     ready,
	}
	if report != nil {
		s.Report = report()
	}
	return s
}
