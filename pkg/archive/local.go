package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethpandaops/paddles/pkg/config"
	"github.com/sirupsen/logrus"
)

// Compile-time interface check.
var _ Uploader = (*localUploader)(nil)

type localUploader struct {
	log logrus.FieldLogger
	dir string
}

// NewLocalUploader creates an Uploader that writes below cfg.Dir.
func NewLocalUploader(
	log logrus.FieldLogger,
	cfg *config.ArchiveLocalConfig,
) Uploader {
	return &localUploader{
		log: log.WithField("component", "local-archiver"),
		dir: cfg.Dir,
	}
}

// Upload writes {dir}/runs/{name}.json through a temporary file so readers
// never observe a partial document.
func (u *localUploader) Upload(
	_ context.Context, runName string, body []byte,
) error {
	rel := filepath.FromSlash(documentKey(runName))
	if !filepath.IsLocal(rel) || filepath.Base(rel) != runName+".json" {
		return fmt.Errorf("run name %q is not a valid file name", runName)
	}

	dst := filepath.Join(u.dir, rel)

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".paddles-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()

		return fmt.Errorf("writing %s: %w", tmpName, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}

	u.log.WithField("path", dst).Debug("Wrote run document")

	return nil
}

// Location returns the file path of the run document.
func (u *localUploader) Location(runName string) string {
	return filepath.Join(u.dir, filepath.FromSlash(documentKey(runName)))
}
