package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config represents a catalogsync.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	API         APIConfig         `yaml:"api"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Adapter     AdapterConfig     `yaml:"adapter"`
	Export      ExportConfig      `yaml:"export"`
}

// APIConfig locates the catalog backend.
type APIConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// CatalogConfig holds listing and rendering defaults.
type CatalogConfig struct {
	PageSize int `yaml:"page_size"`
	// Currency is the symbol printed before money values.
	Currency string `yaml:"currency"`
	// TimeZone is an IANA zone for rendered timestamps. Empty means local.
	TimeZone string `yaml:"time_zone"`
}

// IngestConfig tunes status polling.
type IngestConfig struct {
	FastInterval         Duration `yaml:"fast_interval"`
	IdleInterval         Duration `yaml:"idle_interval"`
	CompletionWaitCycles int      `yaml:"completion_wait_cycles"`
	TriggerPath          string   `yaml:"trigger_path"`
}

// CredentialsConfig selects where the bearer token lives.
type CredentialsConfig struct {
	Backend  string   `yaml:"backend"`
	Path     string   `yaml:"path"`
	RedisURL string   `yaml:"redis_url"`
	RedisKey string   `yaml:"redis_key"`
	TTL      Duration `yaml:"ttl"`
}

// AdapterConfig holds completion publisher defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Secret  string            `yaml:"secret,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// ExportConfig holds snapshot export defaults.
type ExportConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ErrInvalid is matched by every Validate error.
var ErrInvalid = errors.New("invalid configuration")

// FieldError names the first invalid field found by Validate.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Is lets callers test errors.Is(err, ErrInvalid).
func (e *FieldError) Is(target error) bool { return target == ErrInvalid }

func invalid(field, format string, args ...any) error {
	return &FieldError{Field: field, Err: fmt.Errorf(format, args...)}
}

// Validate reports the first invalid field, or nil.
func (c *Config) Validate() error {
	if c.API.BaseURL != "" {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("api.base_url", "must be an http(s) URL, got %q", c.API.BaseURL)
		}
	}
	if c.API.Timeout.Duration < 0 {
		return invalid("api.timeout", "must be >= 0")
	}
	if c.Catalog.PageSize < 0 || c.Catalog.PageSize > 100 {
		return invalid("catalog.page_size", "must be between 1 and 100, got %d", c.Catalog.PageSize)
	}
	if c.Catalog.TimeZone != "" {
		if _, err := time.LoadLocation(c.Catalog.TimeZone); err != nil {
			return &FieldError{Field: "catalog.time_zone", Err: err}
		}
	}
	if c.Ingest.FastInterval.Duration < 0 {
		return invalid("ingest.fast_interval", "must be >= 0")
	}
	if c.Ingest.IdleInterval.Duration < 0 {
		return invalid("ingest.idle_interval", "must be >= 0")
	}
	if c.Ingest.CompletionWaitCycles < 0 {
		return invalid("ingest.completion_wait_cycles", "must be >= 0")
	}

	switch c.Credentials.Backend {
	case "", "file", "memory":
	case "redis":
		if c.Credentials.RedisURL == "" {
			return invalid("credentials.redis_url", "required for the redis backend")
		}
	default:
		return invalid("credentials.backend", "unknown backend %q (want file, redis or memory)", c.Credentials.Backend)
	}

	switch c.Adapter.Type {
	case "":
	case "webhook", "redis":
		if c.Adapter.URL == "" {
			return invalid("adapter.url", "required for the %s adapter", c.Adapter.Type)
		}
	default:
		return invalid("adapter.type", "unknown adapter %q (want webhook or redis)", c.Adapter.Type)
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		return invalid("adapter.retries", "must be >= 0")
	}

	switch c.Export.Backend {
	case "", "fs":
	case "s3":
		if c.Export.Path == "" {
			return invalid("export.path", "bucket[/prefix] required for the s3 backend")
		}
	default:
		return invalid("export.backend", "unknown backend %q (want fs or s3)", c.Export.Backend)
	}
	return nil
}
