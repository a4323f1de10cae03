package runstore

import (
	"fmt"
	"time"
)

// Job statuses. An empty status means unknown.
const (
	JobStatusPass    = "pass"
	JobStatusFail    = "fail"
	JobStatusDead    = "dead"
	JobStatusRunning = "running"
	JobStatusUnknown = ""
)

// Job is a single test execution belonging to a run.
type Job struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       uint   `gorm:"not null;uniqueIndex:idx_jobs_run_job"`
	JobID       string `gorm:"not null;uniqueIndex:idx_jobs_run_job"`
	Description string `gorm:"type:text"`
	Status      string `gorm:"index"`

	// Success is nil until the job has a recorded outcome.
	Success *bool

	Posted  time.Time
	Updated time.Time `gorm:"index"`
}

// HasOutcome reports whether the job finished with a pass/fail result.
func (j *Job) HasOutcome() bool {
	return j.Success != nil
}

// Normalize reconciles Status and Success and rejects unknown statuses or
// contradictory combinations. The returned error wraps ErrInvalidJob.
func (j *Job) Normalize() error {
	switch j.Status {
	case JobStatusPass:
		return j.requireOutcome(true)
	case JobStatusFail, JobStatusDead:
		return j.requireOutcome(false)
	case JobStatusRunning:
		if j.Success != nil {
			return fmt.Errorf("%w: running job cannot have an outcome", ErrInvalidJob)
		}
	case JobStatusUnknown:
		if j.Success != nil {
			if *j.Success {
				j.Status = JobStatusPass
			} else {
				j.Status = JobStatusFail
			}
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidJob, j.Status)
	}

	return nil
}

func (j *Job) requireOutcome(success bool) error {
	if j.Success == nil {
		j.Success = &success

		return nil
	}

	if *j.Success != success {
		return fmt.Errorf(
			"%w: status %q conflicts with success=%t",
			ErrInvalidJob, j.Status, *j.Success,
		)
	}

	return nil
}
