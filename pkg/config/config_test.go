package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STAPEL_BACKEND_URL", "http://backend:8000")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Dispatch.Timeout != 60*time.Second {
		t.Errorf("Dispatch.Timeout = %s", cfg.Dispatch.Timeout)
	}
	if cfg.Storage.Type != "memory" || cfg.Storage.MaxSize != 10000 {
		t.Errorf("storage defaults wrong: %+v", cfg.Storage)
	}
	if cfg.Auth.Type != "none" {
		t.Errorf("Auth.Type = %q", cfg.Auth.Type)
	}
	if !cfg.Observability.Metrics.Enabled || cfg.Observability.Metrics.Path != "/metrics" {
		t.Errorf("metrics defaults wrong: %+v", cfg.Observability.Metrics)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
server:
  port: 9090
engine:
  backend_url: http://backend:8000
  default_model: gpt-test
dispatch:
  timeout: 30s
  max_workers: 4
storage:
  type: memory
  max_size: 50
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Engine.DefaultModel != "gpt-test" {
		t.Errorf("DefaultModel = %q", cfg.Engine.DefaultModel)
	}
	if cfg.Dispatch.Timeout != 30*time.Second || cfg.Dispatch.MaxWorkers != 4 {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Storage.MaxSize != 50 {
		t.Errorf("MaxSize = %d", cfg.Storage.MaxSize)
	}
	// Untouched fields keep defaults.
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("ReadTimeout = %s", cfg.Server.ReadTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STAPEL_BACKEND_URL", "http://env-backend:8000")
	t.Setenv("STAPEL_PORT", "7070")
	t.Setenv("STAPEL_DISPATCH_TIMEOUT", "90s")
	t.Setenv("STAPEL_AUTH_TYPE", "apikey")
	t.Setenv("STAPEL_API_KEYS", `[{"key":"sk-1","subject":"svc","tenant_id":"t1"}]`)

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.BackendURL != "http://env-backend:8000" {
		t.Errorf("BackendURL = %q", cfg.Engine.BackendURL)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Dispatch.Timeout != 90*time.Second {
		t.Errorf("Timeout = %s", cfg.Dispatch.Timeout)
	}
	if len(cfg.Auth.APIKeys) != 1 || cfg.Auth.APIKeys[0].TenantID != "t1" {
		t.Errorf("APIKeys = %+v", cfg.Auth.APIKeys)
	}
}

func TestLoad_FileReferences(t *testing.T) {
	dir := t.TempDir()
	keyPath := writeFile(t, dir, "api-key", "sk-secret\n")
	secretPath := writeFile(t, dir, "jwt-secret", "  hmac-secret  ")
	cfgPath := writeFile(t, dir, "config.yaml", `
engine:
  backend_url: http://backend:8000
  api_key_file: `+keyPath+`
auth:
  type: jwt
  jwt:
    secret_file: `+secretPath+`
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.APIKey != "sk-secret" {
		t.Errorf("APIKey = %q, want trimmed file content", cfg.Engine.APIKey)
	}
	if cfg.Auth.JWT.Secret != "hmac-secret" {
		t.Errorf("JWT.Secret = %q", cfg.Auth.JWT.Secret)
	}
}

func TestLoad_ExplicitValueWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	keyPath := writeFile(t, dir, "api-key", "from-file")
	cfgPath := writeFile(t, dir, "config.yaml", `
engine:
  backend_url: http://backend:8000
  api_key: explicit
  api_key_file: `+keyPath+`
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.APIKey != "explicit" {
		t.Errorf("APIKey = %q, explicit value must win", cfg.Engine.APIKey)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			"missing backend url",
			func(c *Config) { c.Engine.BackendURL = "" },
			"engine.backend_url is required",
		},
		{
			"bad storage type",
			func(c *Config) { c.Storage.Type = "redis" },
			"storage.type",
		},
		{
			"postgres without dsn",
			func(c *Config) { c.Storage.Type = "postgres" },
			"storage.postgres.dsn",
		},
		{
			"bad auth type",
			func(c *Config) { c.Auth.Type = "oauth" },
			"auth.type",
		},
		{
			"jwt without secret",
			func(c *Config) { c.Auth.Type = "jwt" },
			"auth.jwt.secret",
		},
		{
			"zero dispatch timeout",
			func(c *Config) { c.Dispatch.Timeout = 0 },
			"dispatch.timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Engine.BackendURL = "http://backend:8000"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantSub)
			}
		})
	}
}
