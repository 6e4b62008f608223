package scraper

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"rentwatch/models"
)

// ErrBusy is returned when a run is requested while another is in flight.
var ErrBusy = eris.New("scraper: a run is already in progress")

// Status is a point-in-time view of the runner.
type Status struct {
	Running bool
	Last    *models.RunSummary // nil until the first run completes
}

// Runner serialises pipeline runs. At most one run executes at a time; a
// second request fails fast with ErrBusy instead of queueing, so a stuck run
// never piles up callers behind it.
type Runner struct {
	pipeline *Pipeline

	mu      sync.Mutex
	running bool
	last    *models.RunSummary
}

// NewRunner creates a Runner.
func NewRunner(pipeline *Pipeline) *Runner {
	return &Runner{pipeline: pipeline}
}

// Run executes one pipeline run, or fails with ErrBusy if one is in flight.
func (r *Runner) Run(ctx context.Context, sources []models.Source) (*models.RunSummary, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.running = true
	r.mu.Unlock()

	summary := r.pipeline.Run(ctx, sources)

	r.mu.Lock()
	r.running = false
	r.last = summary
	r.mu.Unlock()

	return summary, nil
}

// Status reports whether a run is in flight and the last completed summary.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{Running: r.running, Last: r.last}
}
