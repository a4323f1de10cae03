package config

import "fmt"

// ArchiveConfig configures exporting finished runs to remote storage.
// Exactly one backend must be enabled to archive.
type ArchiveConfig struct {
	Concurrency int                 `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
	S3          *ArchiveS3Config    `yaml:"s3,omitempty" mapstructure:"s3"`
	Local       *ArchiveLocalConfig `yaml:"local,omitempty" mapstructure:"local"`
}

// ArchiveS3Config contains S3 settings for archived run documents.
type ArchiveS3Config struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
}

// ArchiveLocalConfig writes archived run documents below Dir.
type ArchiveLocalConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
}

// ValidateArchive checks the archive and database sections.
func (c *Config) ValidateArchive() error {
	if err := c.ValidateDatabase(); err != nil {
		return err
	}

	s3Enabled := c.Archive.S3 != nil && c.Archive.S3.Enabled
	localEnabled := c.Archive.Local != nil && c.Archive.Local.Enabled

	switch {
	case s3Enabled && localEnabled:
		return fmt.Errorf("archive: only one of s3 or local may be enabled")
	case !s3Enabled && !localEnabled:
		return fmt.Errorf("archive: no backend enabled")
	case s3Enabled && c.Archive.S3.Bucket == "":
		return fmt.Errorf("archive.s3.bucket is required")
	case localEnabled && c.Archive.Local.Dir == "":
		return fmt.Errorf("archive.local.dir is required")
	}

	return nil
}
