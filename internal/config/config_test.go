// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

redis:
  addr: "localhost:6379"
  db: 2
  prefix: "chatline:"

sessions:
  dir: "./sessions"
  settle_delay: "500ms"
  init_timeout: "2m"
  qr_timeout: "30s"

backend:
  url: "https://agents.example.com"
  api_key: "test-key"
  timeout: "45s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q, want %q", cfg.Redis.Addr, "localhost:6379")
	}
	if cfg.Redis.DB != 2 {
		t.Errorf("Redis.DB = %d, want 2", cfg.Redis.DB)
	}
	if cfg.Sessions.Dir != "./sessions" {
		t.Errorf("Sessions.Dir = %q, want %q", cfg.Sessions.Dir, "./sessions")
	}
	if cfg.Sessions.SettleDelay != 500*time.Millisecond {
		t.Errorf("Sessions.SettleDelay = %v, want %v", cfg.Sessions.SettleDelay, 500*time.Millisecond)
	}
	if cfg.Sessions.InitTimeout != 2*time.Minute {
		t.Errorf("Sessions.InitTimeout = %v, want %v", cfg.Sessions.InitTimeout, 2*time.Minute)
	}
	if cfg.Sessions.QRTimeout != 30*time.Second {
		t.Errorf("Sessions.QRTimeout = %v, want %v", cfg.Sessions.QRTimeout, 30*time.Second)
	}
	if cfg.Backend.URL != "https://agents.example.com" {
		t.Errorf("Backend.URL = %q, want %q", cfg.Backend.URL, "https://agents.example.com")
	}
	if cfg.Backend.Timeout != 45*time.Second {
		t.Errorf("Backend.Timeout = %v, want %v", cfg.Backend.Timeout, 45*time.Second)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_BACKEND_KEY", "key-from-env")
	t.Setenv("TEST_REDIS_PASSWORD", "redis-from-env")

	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
redis:
  addr: "localhost:6379"
  password: "${TEST_REDIS_PASSWORD}"
sessions:
  dir: "./sessions"
backend:
  url: "https://agents.example.com"
  api_key: "${TEST_BACKEND_KEY}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend.APIKey != "key-from-env" {
		t.Errorf("Backend.APIKey = %q, want %q", cfg.Backend.APIKey, "key-from-env")
	}
	if cfg.Redis.Password != "redis-from-env" {
		t.Errorf("Redis.Password = %q, want %q", cfg.Redis.Password, "redis-from-env")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
sessions:
  dir: "./sessions"
backend:
  url: "https://agents.example.com"
  api_key: "${UNSET_VAR_FOR_TEST}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend.APIKey != "" {
		t.Errorf("Backend.APIKey = %q, want empty string for unset env var", cfg.Backend.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr "missing colon"
`)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
sessions:
  dir: "./sessions"
  settle_delay: "not-a-duration"
backend:
  url: "https://agents.example.com"
`)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing http_addr",
			configContent: `
server:
  http_addr: ""
database:
  path: "./test.db"
sessions:
  dir: "./sessions"
backend:
  url: "https://agents.example.com"
`,
			wantErrSubstr: "server.http_addr is required",
		},
		{
			name: "missing database path",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: ""
sessions:
  dir: "./sessions"
backend:
  url: "https://agents.example.com"
`,
			wantErrSubstr: "database.path is required",
		},
		{
			name: "missing sessions dir",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
backend:
  url: "https://agents.example.com"
`,
			wantErrSubstr: "sessions.dir is required",
		},
		{
			name: "missing backend url",
			configContent: `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./test.db"
sessions:
  dir: "./sessions"
`,
			wantErrSubstr: "backend.url is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.configContent)

			_, err := Load(configPath)
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}
			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "single env var", input: "${FOO}", expected: "bar"},
		{name: "env var with surrounding text", input: "prefix-${FOO}-suffix", expected: "prefix-bar-suffix"},
		{name: "multiple env vars", input: "${FOO}/${BAZ}", expected: "bar/qux"},
		{name: "no env vars", input: "no-vars-here", expected: "no-vars-here"},
		{name: "unset env var", input: "${UNSET_VAR}", expected: ""},
		{name: "empty string", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
