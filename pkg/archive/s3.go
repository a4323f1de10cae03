package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethpandaops/paddles/pkg/config"
	"github.com/sirupsen/logrus"
)

const defaultS3Region = "us-east-1"

// s3Uploader implements Uploader for S3-compatible storage.
type s3Uploader struct {
	log    logrus.FieldLogger
	cfg    *config.ArchiveS3Config
	client *s3.Client
}

// Ensure interface compliance.
var _ Uploader = (*s3Uploader)(nil)

// NewS3Uploader creates a new S3 uploader from the given configuration.
func NewS3Uploader(
	log logrus.FieldLogger,
	cfg *config.ArchiveS3Config,
) Uploader {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = defaultS3Region
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return &s3Uploader{
		log:    log.WithField("component", "s3-archiver"),
		cfg:    cfg,
		client: s3.New(s3.Options{}, opts...),
	}
}

// Upload puts the run document under the configured prefix.
func (u *s3Uploader) Upload(
	ctx context.Context, runName string, body []byte,
) error {
	key := u.resolveKey(runName)

	input := &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
	}

	if u.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(u.cfg.StorageClass)
	}

	u.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": u.cfg.Bucket,
	}).Debug("Uploading run document")

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("PutObject s3://%s/%s: %w", u.cfg.Bucket, key, err)
	}

	return nil
}

// Location returns the s3:// URL of the run document.
func (u *s3Uploader) Location(runName string) string {
	return "s3://" + u.cfg.Bucket + "/" + u.resolveKey(runName)
}

// resolveKey builds the object key for a run document.
func (u *s3Uploader) resolveKey(runName string) string {
	prefix := strings.Trim(u.cfg.Prefix, "/")
	if prefix == "" {
		prefix = config.DefaultArchivePrefix
	}

	return prefix + "/" + documentKey(runName)
}
