package runstore

import (
	"testing"
	"time"

	"github.com/ethpandaops/paddles/pkg/runname"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestNewRun(t *testing.T) {
	posted := time.Date(2014, 3, 14, 8, 0, 0, 0, time.UTC)

	t.Run("parsed name", func(t *testing.T) {
		run := NewRun(nil,
			"teuthology-2014-03-13_01:00:03-rbd-wip-fix-testing-basic-plana",
			posted,
		)

		assert.Equal(t, "rbd", run.Suite)
		assert.Equal(t, "wip-fix", run.Branch)
		assert.Equal(t, posted, run.Posted)
		assert.Equal(t, time.Date(2014, 3, 13, 1, 0, 3, 0, time.UTC), run.Scheduled)
	})

	t.Run("unparseable name falls back to defaults", func(t *testing.T) {
		run := NewRun(nil, "adhoc-run", posted)

		assert.Equal(t, "adhoc-run", run.Name)
		assert.Empty(t, run.Suite)
		assert.Empty(t, run.Branch)
		assert.Equal(t, posted, run.Scheduled)
	})

	t.Run("invalid timestamp keeps suite", func(t *testing.T) {
		run := NewRun(nil,
			"teuthology-2014-13-01_01:00:03-rados-master-testing-basic-plana",
			posted,
		)

		assert.Equal(t, "rados", run.Suite)
		assert.Equal(t, "master", run.Branch)
		assert.Equal(t, posted, run.Scheduled)
	})

	t.Run("posted normalised to UTC", func(t *testing.T) {
		loc := time.FixedZone("UTC+2", 2*60*60)
		run := NewRun(nil, "adhoc-run", time.Date(2014, 3, 14, 10, 0, 0, 0, loc))

		assert.Equal(t, time.UTC, run.Posted.Location())
		assert.Equal(t, posted, run.Posted)
	})

	t.Run("custom parser", func(t *testing.T) {
		run := NewRun(runname.NewParser("my-suite"),
			"teuthology-2014-03-13_01:00:03-my-suite-wip-fix-testing-basic-plana",
			posted,
		)

		assert.Equal(t, "my-suite", run.Suite)
		assert.Equal(t, "wip-fix", run.Branch)
	})
}

func TestRun_String(t *testing.T) {
	var detached *Run
	assert.Equal(t, "<Run detached>", detached.String())

	run := &Run{Name: "teuthology-run"}
	assert.Equal(t, `<Run "teuthology-run">`, run.String())
}

func TestRun_StatusAndResults(t *testing.T) {
	tests := []struct {
		name        string
		jobs        []Job
		wantStatus  string
		wantResults Results
	}{
		{
			name:        "no jobs",
			jobs:        nil,
			wantStatus:  RunStatusFinished,
			wantResults: Results{},
		},
		{
			name: "all finished",
			jobs: []Job{
				{Status: JobStatusPass, Success: boolPtr(true)},
				{Status: JobStatusFail, Success: boolPtr(false)},
				{Status: JobStatusDead, Success: boolPtr(false)},
			},
			wantStatus:  RunStatusFinished,
			wantResults: Results{Pass: 1, Fail: 1, Dead: 1, Total: 3},
		},
		{
			name: "one running",
			jobs: []Job{
				{Status: JobStatusPass, Success: boolPtr(true)},
				{Status: JobStatusRunning},
			},
			wantStatus:  RunStatusRunning,
			wantResults: Results{Pass: 1, Running: 1, Total: 2},
		},
		{
			name: "unknown status without outcome",
			jobs: []Job{
				{Status: JobStatusPass, Success: boolPtr(true)},
				{},
			},
			wantStatus:  RunStatusRunning,
			wantResults: Results{Pass: 1, Unknown: 1, Total: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := &Run{Jobs: tt.jobs}

			assert.Equal(t, tt.wantStatus, run.Status())

			res := run.Results()
			assert.Equal(t, tt.wantResults, res)
			assert.Equal(t, res.Total,
				res.Pass+res.Running+res.Fail+res.Dead+res.Unknown,
				"counts must sum to total")
		})
	}
}

func TestRun_Updated(t *testing.T) {
	posted := time.Date(2014, 3, 14, 8, 0, 0, 0, time.UTC)

	t.Run("no jobs uses later of scheduled and posted", func(t *testing.T) {
		run := &Run{Posted: posted, Scheduled: posted.Add(-time.Hour)}
		assert.Equal(t, posted, run.Updated())

		run.Scheduled = posted.Add(time.Hour)
		assert.Equal(t, posted.Add(time.Hour), run.Updated())
	})

	t.Run("latest job update", func(t *testing.T) {
		run := &Run{
			Posted: posted,
			Jobs: []Job{
				{Updated: posted.Add(time.Minute)},
				{Updated: posted.Add(3 * time.Minute)},
				{Updated: posted.Add(2 * time.Minute)},
			},
		}

		assert.Equal(t, posted.Add(3*time.Minute), run.Updated())
	})
}

func TestRun_JobsByDescription(t *testing.T) {
	run := &Run{
		Jobs: []Job{
			{ID: 1, JobID: "1", Description: "rados/thrash"},
			{ID: 2, JobID: "2", Description: "rbd/basic"},
			{ID: 3, JobID: "3", Description: "rados/thrash"},
		},
	}

	byDesc := run.JobsByDescription()
	require.Len(t, byDesc, 2)
	assert.Equal(t, "3", byDesc["rados/thrash"].JobID)
	assert.Equal(t, "2", byDesc["rbd/basic"].JobID)
}

func TestJob_Normalize(t *testing.T) {
	tests := []struct {
		name        string
		job         Job
		wantErr     bool
		wantStatus  string
		wantSuccess *bool
	}{
		{
			name:        "pass sets success",
			job:         Job{Status: JobStatusPass},
			wantStatus:  JobStatusPass,
			wantSuccess: boolPtr(true),
		},
		{
			name:        "fail sets failure",
			job:         Job{Status: JobStatusFail},
			wantStatus:  JobStatusFail,
			wantSuccess: boolPtr(false),
		},
		{
			name:        "dead sets failure",
			job:         Job{Status: JobStatusDead},
			wantStatus:  JobStatusDead,
			wantSuccess: boolPtr(false),
		},
		{
			name:       "running has no outcome",
			job:        Job{Status: JobStatusRunning},
			wantStatus: JobStatusRunning,
		},
		{
			name:       "unknown stays unknown",
			job:        Job{},
			wantStatus: JobStatusUnknown,
		},
		{
			name:        "success derives pass",
			job:         Job{Success: boolPtr(true)},
			wantStatus:  JobStatusPass,
			wantSuccess: boolPtr(true),
		},
		{
			name:        "failure derives fail",
			job:         Job{Success: boolPtr(false)},
			wantStatus:  JobStatusFail,
			wantSuccess: boolPtr(false),
		},
		{
			name:    "pass with failure conflicts",
			job:     Job{Status: JobStatusPass, Success: boolPtr(false)},
			wantErr: true,
		},
		{
			name:    "running with outcome conflicts",
			job:     Job{Status: JobStatusRunning, Success: boolPtr(true)},
			wantErr: true,
		},
		{
			name:    "unsupported status",
			job:     Job{Status: "queued"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := tt.job

			err := job.Normalize()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidJob)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, job.Status)
			assert.Equal(t, tt.wantSuccess, job.Success)
			assert.Equal(t, tt.wantSuccess != nil, job.HasOutcome())
		})
	}
}
