// Package archive exports finished runs to object storage and optionally
// prunes them from the database afterwards.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/paddles/pkg/api"
	"github.com/ethpandaops/paddles/pkg/config"
	"github.com/ethpandaops/paddles/pkg/runstore"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// listPageSize is the number of runs fetched per store query while
// collecting candidates.
const listPageSize = 500

// Options controls a single archive pass.
type Options struct {
	// OlderThan selects runs whose last update is before now minus OlderThan.
	OlderThan time.Duration

	// Prune deletes each run from the store once its upload succeeded.
	Prune bool

	// DryRun only reports the candidates.
	DryRun bool
}

// Summary reports the outcome of an archive pass.
type Summary struct {
	Candidates int `json:"candidates"`
	Archived   int `json:"archived"`
	Pruned     int `json:"pruned"`
	Failed     int `json:"failed"`
}

// Document is the archived form of a run.
type Document struct {
	Run  api.RunResponse   `json:"run"`
	Jobs []api.JobResponse `json:"jobs"`
}

// NewDocument renders run and its jobs. Links are rooted at address.
func NewDocument(run *runstore.Run, address string) Document {
	jobs := make([]api.JobResponse, 0, len(run.Jobs))
	for i := range run.Jobs {
		jobs = append(jobs, api.NewJobResponse(&run.Jobs[i], run.Name))
	}

	return Document{
		Run:  api.NewRunResponse(run, address),
		Jobs: jobs,
	}
}

// Archiver copies finished runs from a store into an Uploader.
type Archiver struct {
	log         logrus.FieldLogger
	store       runstore.Store
	uploader    Uploader
	address     string
	concurrency int
	now         func() time.Time
}

// NewArchiver creates an Archiver. Concurrency and the public address are
// taken from cfg.
func NewArchiver(
	log logrus.FieldLogger,
	cfg *config.Config,
	store runstore.Store,
	uploader Uploader,
) *Archiver {
	concurrency := cfg.Archive.Concurrency
	if concurrency <= 0 {
		concurrency = config.DefaultArchiveConcurrency
	}

	return &Archiver{
		log:         log.WithField("component", "archiver"),
		store:       store,
		uploader:    uploader,
		address:     cfg.API.Server.Address,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run performs one archive pass. Failures of individual runs are logged and
// counted; only cancellation and store listing errors abort the pass.
func (a *Archiver) Run(ctx context.Context, opts Options) (*Summary, error) {
	if opts.OlderThan < 0 {
		return nil, fmt.Errorf("older-than must not be negative")
	}

	cutoff := a.now().Add(-opts.OlderThan)

	candidates, err := a.candidates(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Candidates: len(candidates)}

	a.log.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"cutoff":     cutoff.Format(time.RFC3339),
		"prune":      opts.Prune,
		"dry_run":    opts.DryRun,
	}).Info("Starting archive pass")

	if opts.DryRun {
		for _, run := range candidates {
			a.log.WithField("run", run.Name).
				WithField("location", a.uploader.Location(run.Name)).
				Info("Would archive run")
		}

		return summary, nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	var archived, pruned, failed atomic.Int64

	for _, run := range candidates {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			runLog := a.log.WithField("run", run.Name)

			if err := a.archiveRun(gCtx, run); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}

				runLog.WithError(err).Warn("Failed to archive run")
				failed.Add(1)

				return nil
			}

			archived.Add(1)

			if !opts.Prune {
				return nil
			}

			if err := a.store.DeleteRun(gCtx, run.Name); err != nil {
				runLog.WithError(err).Warn("Failed to prune archived run")
				failed.Add(1)

				return nil
			}

			pruned.Add(1)
			runLog.Info("Pruned archived run")

			return nil
		})
	}

	err = g.Wait()

	summary.Archived = int(archived.Load())
	summary.Pruned = int(pruned.Load())
	summary.Failed = int(failed.Load())

	if err != nil {
		return summary, fmt.Errorf("archiving runs: %w", err)
	}

	a.log.WithFields(logrus.Fields{
		"archived": summary.Archived,
		"pruned":   summary.Pruned,
		"failed":   summary.Failed,
	}).Info("Archive pass complete")

	return summary, nil
}

// candidates returns finished runs last updated before cutoff. All pages are
// read before any run is pruned so deletions cannot shift the offsets.
func (a *Archiver) candidates(
	ctx context.Context, cutoff time.Time,
) ([]*runstore.Run, error) {
	var out []*runstore.Run

	for offset := 0; ; offset += listPageSize {
		runs, err := a.store.ListRuns(ctx, runstore.RunFilter{
			Limit:  listPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}

		for i := range runs {
			run := &runs[i]
			if run.Status() == runstore.RunStatusFinished &&
				run.Updated().Before(cutoff) {
				out = append(out, run)
			}
		}

		if len(runs) < listPageSize {
			return out, nil
		}
	}
}

func (a *Archiver) archiveRun(ctx context.Context, run *runstore.Run) error {
	body, err := json.MarshalIndent(NewDocument(run, a.address), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run document: %w", err)
	}

	if err := a.uploader.Upload(ctx, run.Name, body); err != nil {
		return fmt.Errorf("uploading run document: %w", err)
	}

	a.log.WithField("run", run.Name).
		WithField("location", a.uploader.Location(run.Name)).
		WithField("size", units.HumanSize(float64(len(body)))).
		Info("Archived run")

	return nil
}
