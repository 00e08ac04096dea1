package scraper

import (
	"sync"
	"time"
)

// RunSummary accumulates counters across one scrape run. Nothing is dropped
// silently: every skipped URL and unparseable pay string increments a
// counter that the run report surfaces.
type RunSummary struct {
	mu          sync.Mutex
	started     time.Time
	requests    int
	disallowed  int
	skipped     int
	unparseable int
	errors      int
	jobs        int
}

// Stats is a point-in-time copy of the run counters.
type Stats struct {
	Requests          int
	Disallowed        int
	Skipped           int
	Unparseable       int
	Errors            int
	Jobs              int
	Duration          time.Duration
	RequestsPerMinute float64
}

// NewRunSummary creates a summary starting now.
func NewRunSummary() *RunSummary {
	return &RunSummary{started: time.Now()}
}

// AddRequest counts one issued page request.
func (s *RunSummary) AddRequest() { s.add(&s.requests) }

// AddDisallowed counts one URL refused by the access policy.
func (s *RunSummary) AddDisallowed() { s.add(&s.disallowed) }

// AddSkipped counts one URL skipped for any other reason.
func (s *RunSummary) AddSkipped() { s.add(&s.skipped) }

// AddUnparseable counts one pay string the normalizer could not handle.
func (s *RunSummary) AddUnparseable() { s.add(&s.unparseable) }

// AddError counts one failed page fetch.
func (s *RunSummary) AddError() { s.add(&s.errors) }

// AddJob counts one collected job posting.
func (s *RunSummary) AddJob() { s.add(&s.jobs) }

func (s *RunSummary) add(counter *int) {
	s.mu.Lock()
	*counter++
	s.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (s *RunSummary) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := time.Since(s.started)
	perMinute := 0.0
	if elapsed > 0 {
		perMinute = float64(s.requests) / elapsed.Minutes()
	}
	return Stats{
		Requests:          s.requests,
		Disallowed:        s.disallowed,
		Skipped:           s.skipped,
		Unparseable:       s.unparseable,
		Errors:            s.errors,
		Jobs:              s.jobs,
		Duration:          elapsed,
		RequestsPerMinute: perMinute,
	}
}
