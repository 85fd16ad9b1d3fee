// Package config loads the tasuku server configuration.
//
// Configuration is resolved from, in increasing precedence: built-in
// defaults, a tasuku.yaml file, and TASUKU_* environment variables
// (e.g. TASUKU_LISTEN_ADDR).
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	// ListenAddr is the address the sync hub listens on.
	ListenAddr string `mapstructure:"listen_addr"`

	// DatabasePath is the task store location.
	DatabasePath string `mapstructure:"database_path"`

	// LegacyDatabasePath is the previous-schema store location checked at
	// startup for one-time migration. Empty disables the check.
	LegacyDatabasePath string `mapstructure:"legacy_database_path"`

	// LogFile, when set, receives rotated server logs in addition to stderr.
	LogFile string `mapstructure:"log_file"`

	// SendBuffer is the per-connection outbound queue size.
	SendBuffer int `mapstructure:"send_buffer"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:         "127.0.0.1:7432",
		DatabasePath:       filepath.Join(".tasuku", "tasuku.db"),
		LegacyDatabasePath: filepath.Join(".tasuku", "todo.db"),
		LogFile:            "",
		SendBuffer:         64,
	}
}

// Load reads configuration from the given file path. When path is empty,
// tasuku.yaml is searched in the working directory and ~/.tasuku. A missing
// config file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("listen_addr", def.ListenAddr)
	v.SetDefault("database_path", def.DatabasePath)
	v.SetDefault("legacy_database_path", def.LegacyDatabasePath)
	v.SetDefault("log_file", def.LogFile)
	v.SetDefault("send_buffer", def.SendBuffer)

	v.SetEnvPrefix("TASUKU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tasuku")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.tasuku")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive (got %d)", c.SendBuffer)
	}
	return nil
}
