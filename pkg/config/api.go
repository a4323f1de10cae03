package config

import "fmt"

// APIConfig contains all API server configuration.
type APIConfig struct {
	Server APIServerConfig `yaml:"server" mapstructure:"server"`
	Auth   APIAuthConfig   `yaml:"auth,omitempty" mapstructure:"auth"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen"`
	// Address is the public base URL used to build run links.
	Address     string          `yaml:"address" mapstructure:"address"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Read    RateLimitTier `yaml:"read,omitempty" mapstructure:"read"`
	Write   RateLimitTier `yaml:"write,omitempty" mapstructure:"write"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig contains authentication settings for mutating endpoints.
type APIAuthConfig struct {
	Basic BasicAuthConfig `yaml:"basic,omitempty" mapstructure:"basic"`
}

// BasicAuthConfig configures username/password authentication.
type BasicAuthConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Users   []BasicAuthUser `yaml:"users,omitempty" mapstructure:"users"`
}

// BasicAuthUser defines a basic auth user from config.
type BasicAuthUser struct {
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
}

// ValidateAPI checks the API and database sections.
func (c *Config) ValidateAPI() error {
	if err := c.ValidateDatabase(); err != nil {
		return err
	}

	if c.API.Server.Listen == "" {
		return fmt.Errorf("api.server.listen is required")
	}

	if c.API.Server.RateLimit.Enabled {
		if c.API.Server.RateLimit.Read.RequestsPerMinute < 0 ||
			c.API.Server.RateLimit.Write.RequestsPerMinute < 0 {
			return fmt.Errorf("api.server.rate_limit requests_per_minute must be positive")
		}
	}

	if c.API.Auth.Basic.Enabled {
		if len(c.API.Auth.Basic.Users) == 0 {
			return fmt.Errorf("api.auth.basic.users must not be empty when basic auth is enabled")
		}

		seen := make(map[string]struct{}, len(c.API.Auth.Basic.Users))

		for i, u := range c.API.Auth.Basic.Users {
			if u.Username == "" {
				return fmt.Errorf("api.auth.basic.users[%d]: username is required", i)
			}

			if u.Password == "" {
				return fmt.Errorf("api.auth.basic.users[%d]: password is required", i)
			}

			if _, ok := seen[u.Username]; ok {
				return fmt.Errorf("api.auth.basic.users[%d]: duplicate username %q", i, u.Username)
			}

			seen[u.Username] = struct{}{}
		}
	}

	return nil
}
