package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethpandaops/paddles/pkg/archive"
	"github.com/ethpandaops/paddles/pkg/runstore"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	archiveOlderThan time.Duration
	archivePrune     bool
	archiveDryRun    bool
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Export finished runs to the configured archive backend",
	Long: `Export every finished run whose last update is older than --older-than
as a JSON document to S3 or a local directory. With --prune, each run is
removed from the database once its document has been written.`,
	RunE: runArchive,
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.Flags().DurationVar(&archiveOlderThan, "older-than", 30*24*time.Hour,
		"only archive runs last updated before this age")
	archiveCmd.Flags().BoolVar(&archivePrune, "prune", false,
		"delete runs from the database after archiving them")
	archiveCmd.Flags().BoolVar(&archiveDryRun, "dry-run", false,
		"list candidate runs without writing or deleting anything")
}

func runArchive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.ValidateArchive(); err != nil {
		return fmt.Errorf("validating archive config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := runstore.NewStore(log, &cfg.Database)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close store")
		}
	}()

	uploader, err := archive.NewUploader(log, &cfg.Archive)
	if err != nil {
		return fmt.Errorf("creating uploader: %w", err)
	}

	summary, err := archive.NewArchiver(log, cfg, store, uploader).Run(ctx, archive.Options{
		OlderThan: archiveOlderThan,
		Prune:     archivePrune,
		DryRun:    archiveDryRun,
	})
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"candidates": summary.Candidates,
		"archived":   summary.Archived,
		"pruned":     summary.Pruned,
		"failed":     summary.Failed,
		"dry_run":    archiveDryRun,
	}).Info("Archive finished")

	if summary.Failed > 0 {
		return fmt.Errorf("%d run(s) failed to archive", summary.Failed)
	}

	return nil
}
