// Package config loads the daemon configuration from defaults, an optional
// TOML file, and REFERRALD_-prefixed environment variables, in that order.
package config

import (
	"fmt"
	"time"

	"github.com/nikatrade/referrald/internal/storage/relationaldb"
)

// Config is the complete daemon configuration.
type Config struct {
	Server   ServerConfig        `toml:"server" mapstructure:"server"`
	Database relationaldb.Config `toml:"database" mapstructure:"database"`
	Referral ReferralConfig      `toml:"referral" mapstructure:"referral"`

	configPath string
}

// ServerConfig is the [server] section.
type ServerConfig struct {
	Host            string        `toml:"host" mapstructure:"host"`
	Port            int           `toml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `toml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// Addr returns the host:port the listener binds to.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the [server] section.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Port)
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	return nil
}

// ReferralConfig is the [referral] section.
type ReferralConfig struct {
	MaxLevels    int    `toml:"max_levels" mapstructure:"max_levels"`
	DefaultToken string `toml:"default_token" mapstructure:"default_token"`
}

// Validate checks the [referral] section.
func (c *ReferralConfig) Validate() error {
	if c.MaxLevels != 3 {
		return fmt.Errorf("referral max_levels is fixed at 3 by the commission schedule, got %d", c.MaxLevels)
	}
	if c.DefaultToken == "" {
		return fmt.Errorf("referral default_token cannot be empty")
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	return c.Referral.Validate()
}

// ConfigPath returns the file the configuration was loaded from, empty when
// running on defaults and environment only.
func (c *Config) ConfigPath() string {
	return c.configPath
}
