package runstore

import (
	"fmt"
	"time"

	"github.com/ethpandaops/paddles/pkg/runname"
)

// Overall run statuses.
const (
	RunStatusRunning  = "running"
	RunStatusFinished = "finished"
)

// Run is a scheduled batch of test jobs. Suite, Branch and Scheduled are
// derived from Name once, when the run is constructed.
type Run struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"size:512;not null;uniqueIndex"`
	Suite     string    `gorm:"index"`
	Branch    string    `gorm:"index"`
	Posted    time.Time `gorm:"index"`
	Scheduled time.Time `gorm:"index"`

	Jobs []Job `gorm:"constraint:OnDelete:CASCADE"`
}

// NewRun builds a run registered at posted. When parser is nil the default
// suite catalog is used.
func NewRun(parser *runname.Parser, name string, posted time.Time) *Run {
	if parser == nil {
		parser = runname.NewParser()
	}

	posted = posted.UTC()
	parsed := parser.Parse(name)

	run := &Run{
		Name:      name,
		Suite:     parsed.Suite,
		Branch:    parsed.Branch,
		Posted:    posted,
		Scheduled: posted,
	}

	if parsed.Scheduled != nil {
		run.Scheduled = *parsed.Scheduled
	}

	return run
}

// String renders the run for logs. A nil run is reported as detached.
func (r *Run) String() string {
	if r == nil {
		return "<Run detached>"
	}

	return fmt.Sprintf("<Run %q>", r.Name)
}

// Results counts the run's jobs by status.
func (r *Run) Results() Results {
	return Aggregate(r.Jobs)
}

// Status is RunStatusRunning while any job lacks an outcome.
func (r *Run) Status() string {
	for i := range r.Jobs {
		if !r.Jobs[i].HasOutcome() {
			return RunStatusRunning
		}
	}

	return RunStatusFinished
}

// Updated returns the most recent job update, or the later of Scheduled and
// Posted when the run has no jobs.
func (r *Run) Updated() time.Time {
	if len(r.Jobs) == 0 {
		if r.Scheduled.After(r.Posted) {
			return r.Scheduled
		}

		return r.Posted
	}

	latest := r.Jobs[0].Updated
	for _, j := range r.Jobs[1:] {
		if j.Updated.After(latest) {
			latest = j.Updated
		}
	}

	return latest
}

// JobsByDescription indexes jobs by description. Jobs are ordered by ID, so
// the newest job wins when descriptions collide.
func (r *Run) JobsByDescription() map[string]*Job {
	byDesc := make(map[string]*Job, len(r.Jobs))
	for i := range r.Jobs {
		byDesc[r.Jobs[i].Description] = &r.Jobs[i]
	}

	return byDesc
}
