package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment variable overrides, e.g.
	// PADDLES_API_SERVER_LISTEN overrides api.server.listen.
	EnvPrefix = "PADDLES"

	// DriverSQLite selects the embedded SQLite database driver.
	DriverSQLite = "sqlite"

	// DriverPostgres selects the PostgreSQL database driver.
	DriverPostgres = "postgres"

	// DefaultSQLitePath is the default SQLite database file.
	DefaultSQLitePath = "paddles.db"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultAddress is the default public base URL used to build run links.
	DefaultAddress = "http://localhost:8080"

	// DefaultArchiveConcurrency is the default number of parallel exports.
	DefaultArchiveConcurrency = 4

	// DefaultArchivePrefix is the default S3 key prefix for archived runs.
	DefaultArchivePrefix = "paddles"

	// DefaultPostgresPort is the default PostgreSQL port.
	DefaultPostgresPort = 5432

	// DefaultPostgresSSLMode is the default PostgreSQL sslmode.
	DefaultPostgresSSLMode = "disable"

	defaultReadRequestsPerMinute  = 600
	defaultWriteRequestsPerMinute = 120
)

// Config is the root configuration for paddles.
type Config struct {
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Parser   ParserConfig   `yaml:"parser,omitempty" mapstructure:"parser"`
	API      APIConfig      `yaml:"api,omitempty" mapstructure:"api"`
	Archive  ArchiveConfig  `yaml:"archive,omitempty" mapstructure:"archive"`
}

// ParserConfig tunes run name parsing.
type ParserConfig struct {
	// ExtraSuites are matched before the built-in suite catalog.
	ExtraSuites []string `yaml:"extra_suites,omitempty" mapstructure:"extra_suites"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// Load reads the given YAML files in order, later files overriding earlier
// ones, then applies environment overrides and defaults.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	registerDefaults(v)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// registerDefaults makes viper aware of scalar keys so that environment
// variables can override them even when the files omit them.
func registerDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("parser.extra_suites", []string{})
	v.SetDefault("api.server.listen", DefaultListen)
	v.SetDefault("api.server.address", DefaultAddress)
	v.SetDefault("api.server.rate_limit.enabled", false)
	v.SetDefault("api.auth.basic.enabled", false)
	v.SetDefault("archive.concurrency", DefaultArchiveConcurrency)
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}

	if c.Database.Driver == DriverSQLite && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.Database.Driver == DriverPostgres {
		if c.Database.Postgres.Port == 0 {
			c.Database.Postgres.Port = DefaultPostgresPort
		}

		if c.Database.Postgres.SSLMode == "" {
			c.Database.Postgres.SSLMode = DefaultPostgresSSLMode
		}
	}

	if c.API.Server.Listen == "" {
		c.API.Server.Listen = DefaultListen
	}

	if c.API.Server.Address == "" {
		c.API.Server.Address = DefaultAddress
	}

	c.API.Server.Address = strings.TrimRight(c.API.Server.Address, "/")

	if c.API.Server.RateLimit.Read.RequestsPerMinute == 0 {
		c.API.Server.RateLimit.Read.RequestsPerMinute = defaultReadRequestsPerMinute
	}

	if c.API.Server.RateLimit.Write.RequestsPerMinute == 0 {
		c.API.Server.RateLimit.Write.RequestsPerMinute = defaultWriteRequestsPerMinute
	}

	if c.Archive.Concurrency <= 0 {
		c.Archive.Concurrency = DefaultArchiveConcurrency
	}

	if c.Archive.S3 != nil && c.Archive.S3.Prefix == "" {
		c.Archive.S3.Prefix = DefaultArchivePrefix
	}
}

// ValidateDatabase checks the database section.
func (c *Config) ValidateDatabase() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case DriverPostgres:
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}

		if c.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	return nil
}
