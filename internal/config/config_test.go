package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoadDefaults verifies the built-in defaults survive a load with no
// file and no environment.
func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != ":8080" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Database.Table != "tracks" {
		t.Errorf("table = %q", cfg.Database.Table)
	}
	if cfg.API.DefaultLimit != 10 || cfg.API.MaxLimit != 500 {
		t.Errorf("api = %+v", cfg.API)
	}
}

// TestLoadLayering verifies file values override defaults and environment
// values override the file.
func TestLoadLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "server:\n  listen: \":9090\"\n  request_timeout: 5s\ndatabase:\n  path: /tmp/file.db\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("TRACKETL_DATABASE_PATH", "/tmp/env.db")
	t.Setenv("TRACKETL_API_DEFAULT_LIMIT", "25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Listen != ":9090" {
		t.Errorf("listen = %q, want :9090 from file", cfg.Server.Listen)
	}
	if cfg.Server.RequestTimeout != 5*time.Second {
		t.Errorf("request_timeout = %v", cfg.Server.RequestTimeout)
	}
	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("path = %q, want env override", cfg.Database.Path)
	}
	if cfg.API.DefaultLimit != 25 {
		t.Errorf("default_limit = %d, want 25", cfg.API.DefaultLimit)
	}
}

func TestEnvTransform(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"TRACKETL_DATABASE_PATH", "database.path"},
		{"TRACKETL_API_DEFAULT_LIMIT", "api.default_limit"},
		{"TRACKETL_SERVER_LISTEN", "server.listen"},
		{"TRACKETL_LOGGING_LEVEL", "logging.level"},
	}
	for _, tc := range cases {
		if got := envTransform(tc.in); got != tc.want {
			t.Errorf("envTransform(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	bad := defaultConfig()
	bad.Database.Table = ""
	if err := bad.Validate(); err == nil {
		t.Error("expected error for empty table")
	}

	bad = defaultConfig()
	bad.API.MaxLimit = 1
	if err := bad.Validate(); err == nil {
		t.Error("expected error for max_limit below default_limit")
	}
}
