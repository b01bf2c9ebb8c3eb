package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `api:
  base_url: https://catalog.example.com/api
  timeout: 15s

catalog:
  page_size: 25
  currency: "₡"
  time_zone: America/Costa_Rica

ingest:
  fast_interval: 2s
  idle_interval: 30s
  completion_wait_cycles: 60
  trigger_path: /ingest/run-all

credentials:
  backend: redis
  redis_url: redis://localhost:6379/1
  redis_key: store:token
  ttl: 12h

adapter:
  type: webhook
  url: https://hooks.example.com/catalog
  headers:
    Authorization: Bearer token123
  secret: s3cret
  timeout: 10s
  retries: 3

export:
  dataset: catalog
  backend: s3
  path: my-bucket/exports
  region: us-east-1
  endpoint: https://example.com
  s3_path_style: true
`
	cfg, err := Load(writeTemp(t, yaml))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "api.base_url", cfg.API.BaseURL, "https://catalog.example.com/api")
	if cfg.API.Timeout.Duration != 15*time.Second {
		t.Errorf("api.timeout = %v", cfg.API.Timeout)
	}

	if cfg.Catalog.PageSize != 25 {
		t.Errorf("catalog.page_size = %d", cfg.Catalog.PageSize)
	}
	assertEqual(t, "catalog.currency", cfg.Catalog.Currency, "₡")
	assertEqual(t, "catalog.time_zone", cfg.Catalog.TimeZone, "America/Costa_Rica")

	if cfg.Ingest.FastInterval.Duration != 2*time.Second || cfg.Ingest.IdleInterval.Duration != 30*time.Second {
		t.Errorf("ingest intervals = %v / %v", cfg.Ingest.FastInterval, cfg.Ingest.IdleInterval)
	}
	if cfg.Ingest.CompletionWaitCycles != 60 {
		t.Errorf("ingest.completion_wait_cycles = %d", cfg.Ingest.CompletionWaitCycles)
	}
	assertEqual(t, "ingest.trigger_path", cfg.Ingest.TriggerPath, "/ingest/run-all")

	assertEqual(t, "credentials.backend", cfg.Credentials.Backend, "redis")
	assertEqual(t, "credentials.redis_key", cfg.Credentials.RedisKey, "store:token")
	if cfg.Credentials.TTL.Duration != 12*time.Hour {
		t.Errorf("credentials.ttl = %v", cfg.Credentials.TTL)
	}

	assertEqual(t, "adapter.type", cfg.Adapter.Type, "webhook")
	assertEqual(t, "adapter.secret", cfg.Adapter.Secret, "s3cret")
	if cfg.Adapter.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("adapter.headers = %v", cfg.Adapter.Headers)
	}
	if cfg.Adapter.Retries == nil || *cfg.Adapter.Retries != 3 {
		t.Errorf("adapter.retries = %v", cfg.Adapter.Retries)
	}

	assertEqual(t, "export.backend", cfg.Export.Backend, "s3")
	assertEqual(t, "export.path", cfg.Export.Path, "my-bucket/exports")
	if !cfg.Export.S3PathStyle {
		t.Error("expected export.s3_path_style=true")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	cfg, err := Load(writeTemp(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.BaseURL != "" || cfg.Adapter.Retries != nil {
		t.Errorf("expected zero config, got %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("empty config should validate: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("err = %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeTemp(t, "{{invalid yaml")); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeTemp(t, "api:\n  timeout: soon\n"))
	if err == nil || !strings.Contains(err.Error(), `invalid duration "soon"`) {
		t.Errorf("err = %v", err)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("CATALOG_API", "http://10.0.0.5:8000")
	t.Setenv("HOOK_SECRET", "from-env")

	cfg, err := Load(writeTemp(t, `api:
  base_url: ${CATALOG_API}
adapter:
  type: webhook
  url: ${HOOK_URL:-http://localhost:9000/hook}
  secret: ${HOOK_SECRET}
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "api.base_url", cfg.API.BaseURL, "http://10.0.0.5:8000")
	assertEqual(t, "adapter.url", cfg.Adapter.URL, "http://localhost:9000/hook")
	assertEqual(t, "adapter.secret", cfg.Adapter.Secret, "from-env")
}

func TestLoadOptional(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadOptional("")
	if err != nil || cfg == nil {
		t.Fatalf("LoadOptional without file = %v, %v", cfg, err)
	}

	if err := os.WriteFile(DefaultFile, []byte("catalog:\n  page_size: 10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional("")
	if err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if cfg.Catalog.PageSize != 10 {
		t.Errorf("page_size = %d, want default file to be picked up", cfg.Catalog.PageSize)
	}
}

func TestValidate(t *testing.T) {
	neg := -1
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"bad base url", Config{API: APIConfig{BaseURL: "ftp://x"}}, "api.base_url"},
		{"relative base url", Config{API: APIConfig{BaseURL: "/api"}}, "api.base_url"},
		{"page size too large", Config{Catalog: CatalogConfig{PageSize: 101}}, "catalog.page_size"},
		{"unknown zone", Config{Catalog: CatalogConfig{TimeZone: "Mars/Olympus"}}, "catalog.time_zone"},
		{"negative interval", Config{Ingest: IngestConfig{FastInterval: Duration{-time.Second}}}, "ingest.fast_interval"},
		{"unknown credential backend", Config{Credentials: CredentialsConfig{Backend: "vault"}}, "credentials.backend"},
		{"redis without url", Config{Credentials: CredentialsConfig{Backend: "redis"}}, "credentials.redis_url"},
		{"adapter without url", Config{Adapter: AdapterConfig{Type: "redis"}}, "adapter.url"},
		{"unknown adapter", Config{Adapter: AdapterConfig{Type: "kafka", URL: "x"}}, "adapter.type"},
		{"negative retries", Config{Adapter: AdapterConfig{Type: "webhook", URL: "http://h", Retries: &neg}}, "adapter.retries"},
		{"s3 without path", Config{Export: ExportConfig{Backend: "s3"}}, "export.path"},
		{"unknown export backend", Config{Export: ExportConfig{Backend: "gcs"}}, "export.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			var fe *FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want *FieldError", err)
			}
			if fe.Field != tt.field {
				t.Errorf("field = %q, want %q", fe.Field, tt.field)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Error("expected errors.Is(err, ErrInvalid)")
			}
		})
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFile)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
