package archive

import (
	"context"
	"fmt"

	"github.com/ethpandaops/paddles/pkg/config"
	"github.com/sirupsen/logrus"
)

// Uploader stores archived run documents in remote storage.
type Uploader interface {
	// Upload writes body as the document for the named run.
	Upload(ctx context.Context, runName string, body []byte) error

	// Location returns where the document for runName is stored, for logs.
	Location(runName string) string
}

// NewUploader builds the uploader for whichever backend is enabled in cfg.
func NewUploader(
	log logrus.FieldLogger,
	cfg *config.ArchiveConfig,
) (Uploader, error) {
	switch {
	case cfg.S3 != nil && cfg.S3.Enabled:
		return NewS3Uploader(log, cfg.S3), nil
	case cfg.Local != nil && cfg.Local.Enabled:
		return NewLocalUploader(log, cfg.Local), nil
	default:
		return nil, fmt.Errorf("no archive backend enabled")
	}
}

// documentKey is the backend-relative key of a run's document.
func documentKey(runName string) string {
	return "runs/" + runName + ".json"
}
