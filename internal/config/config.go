// Package config loads the dashboard server configuration in three layers:
// struct defaults, an optional YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where a config file is searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tracketl/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "TRACKETL_CONFIG"

// envPrefix is stripped from environment overrides:
// TRACKETL_DATABASE_PATH becomes database.path.
const envPrefix = "TRACKETL_"

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Logging  LoggingConfig  `koanf:"logging"`
	API      APIConfig      `koanf:"api"`
}

type ServerConfig struct {
	Listen string `koanf:"listen"`
	// RequestTimeout bounds a single request, middleware included.
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Path is the SQLite file the dashboard reads.
	Path  string `koanf:"path"`
	Table string `koanf:"table"`
}

type LoggingConfig struct {
	Level string `koanf:"level"`
}

type APIConfig struct {
	// DefaultLimit applies when a list request has no limit parameter.
	DefaultLimit int `koanf:"default_limit"`
	// MaxLimit caps any requested limit.
	MaxLimit int `koanf:"max_limit"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8080",
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:  "spotify_tracks.db",
			Table: "tracks",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		API: APIConfig{
			DefaultLimit: 10,
			MaxLimit:     500,
		},
	}
}

// Load builds the effective configuration. A missing config file is fine;
// an unreadable or invalid one is an error.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envTransform maps TRACKETL_DATABASE_PATH to database.path. The first
// underscore separates the section; later underscores stay in the key name
// (TRACKETL_API_DEFAULT_LIMIT -> api.default_limit).
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return s
	}
	switch parts[0] {
	case "server", "database", "logging", "api":
		return parts[0] + "." + parts[1]
	}
	return s
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("config: server.listen is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("config: database.path is required")
	}
	if c.Database.Table == "" {
		return fmt.Errorf("config: database.table is required")
	}
	if c.API.DefaultLimit <= 0 || c.API.MaxLimit < c.API.DefaultLimit {
		return fmt.Errorf("config: api limits must satisfy 0 < default_limit <= max_limit")
	}
	return nil
}
