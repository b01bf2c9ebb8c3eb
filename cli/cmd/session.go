package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/catalogsync/adapter"
	redisadapter "github.com/pithecene-io/catalogsync/adapter/redis"
	"github.com/pithecene-io/catalogsync/adapter/webhook"
	"github.com/pithecene-io/catalogsync/cache"
	"github.com/pithecene-io/catalogsync/cli/config"
	"github.com/pithecene-io/catalogsync/cli/render"
	"github.com/pithecene-io/catalogsync/coordinator"
	"github.com/pithecene-io/catalogsync/credential"
	"github.com/pithecene-io/catalogsync/ingest"
	"github.com/pithecene-io/catalogsync/log"
	"github.com/pithecene-io/catalogsync/metrics"
	"github.com/pithecene-io/catalogsync/query"
	"github.com/pithecene-io/catalogsync/transport"
	"github.com/pithecene-io/catalogsync/types"
)

// Exit codes.
const (
	exitSuccess = 0
	exitFailure = 1
	exitAuth    = 2
	exitConfig  = 3
)

// defaultAdapterRetries applies when adapter.retries is unset.
const defaultAdapterRetries = 3

// exitError maps err to a cli.Exit with the matching exit code.
func exitError(err error) error {
	var exitCoder cli.ExitCoder
	switch {
	case err == nil:
		return nil
	case errors.As(err, &exitCoder):
		return err
	case transport.IsAuth(err), errors.Is(err, credential.ErrNoCredential):
		return cli.Exit(fmt.Sprintf("%v\nrun `catalogsync login` to sign in", err), exitAuth)
	case errors.Is(err, config.ErrInvalid):
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitConfig)
	default:
		return cli.Exit(err.Error(), exitFailure)
	}
}

// resolveString returns the flag value when set on the command line,
// then the config value, then the flag default.
func resolveString(c *cli.Context, flag, cfgVal string) string {
	if c.IsSet(flag) {
		return c.String(flag)
	}
	if cfgVal != "" {
		return cfgVal
	}
	return c.String(flag)
}

// resolveInt is resolveString for int flags. Zero config values are unset.
func resolveInt(c *cli.Context, flag string, cfgVal int) int {
	if c.IsSet(flag) {
		return c.Int(flag)
	}
	if cfgVal != 0 {
		return cfgVal
	}
	return c.Int(flag)
}

// resolveDuration is resolveString for duration flags.
func resolveDuration(c *cli.Context, flag string, cfgVal config.Duration) time.Duration {
	if c.IsSet(flag) {
		return c.Duration(flag)
	}
	if cfgVal.Duration != 0 {
		return cfgVal.Duration
	}
	return c.Duration(flag)
}

// loadConfig reads and validates the config named by --config, or the
// default file when present.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadOptional(c.String("config"))
	if err != nil {
		return nil, &config.FieldError{Field: "config", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// session holds the components every command shares.
type session struct {
	config    *config.Config
	meta      *types.SessionMeta
	logger    *log.Logger
	collector *metrics.Collector
	creds     credential.WritableStore
	client    *transport.Client

	closers []func() error
}

type sessionOption func(*sessionOptions)

type sessionOptions struct {
	quiet bool
}

// quietLogs discards logs. The TUI owns the terminal.
func quietLogs() sessionOption {
	return func(o *sessionOptions) { o.quiet = true }
}

// newSession loads config and builds the transport over the selected
// credential store.
func newSession(c *cli.Context, opts ...sessionOption) (*session, error) {
	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	baseURL := resolveString(c, "api", cfg.API.BaseURL)
	if baseURL == "" {
		return nil, &config.FieldError{Field: "api.base_url", Err: errors.New("set --api or api.base_url")}
	}
	meta := types.NewSessionMeta(baseURL)
	if err := meta.Validate(); err != nil {
		return nil, &config.FieldError{Field: "api.base_url", Err: err}
	}

	s := &session{
		config:    cfg,
		meta:      meta,
		collector: metrics.NewCollector(baseURL, meta.SessionID),
	}
	switch {
	case o.quiet:
		s.logger = log.Nop()
	case c.Bool("verbose"):
		s.logger = log.NewDebugLogger(meta).WithOutput(errWriter(c))
	default:
		s.logger = log.NewLogger(meta).WithOutput(errWriter(c))
	}

	creds, closeCreds, err := buildCredentials(c, cfg, baseURL)
	if err != nil {
		return nil, err
	}
	s.creds = creds
	if closeCreds != nil {
		s.closers = append(s.closers, closeCreds)
	}

	client, err := transport.New(transport.Config{
		BaseURL:     baseURL,
		Timeout:     cfg.API.Timeout.Duration,
		TriggerPath: cfg.Ingest.TriggerPath,
		UserAgent:   "catalogsync/" + types.Version,
	}, creds, transport.WithLogger(s.logger), transport.WithCollector(s.collector))
	if err != nil {
		s.Close()
		return nil, &config.FieldError{Field: "api", Err: err}
	}
	s.client = client
	return s, nil
}

// Close releases the credential store and publisher connections.
func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("close failed", map[string]any{"error": err.Error()})
		}
	}
	s.closers = nil
	s.logger.Sync()
}

// buildCredentials selects the token store. --token wins over config.
func buildCredentials(c *cli.Context, cfg *config.Config, baseURL string) (credential.WritableStore, func() error, error) {
	if token := c.String("token"); token != "" {
		return credential.NewMemory(token), nil, nil
	}

	cc := cfg.Credentials
	switch cc.Backend {
	case "memory":
		return credential.NewMemory(""), nil, nil
	case "redis":
		r, err := credential.NewRedis(credential.RedisConfig{
			URL: cc.RedisURL,
			Key: cc.RedisKey,
			TTL: cc.TTL.Duration,
		})
		if err != nil {
			return nil, nil, &config.FieldError{Field: "credentials.redis_url", Err: err}
		}
		return r, r.Close, nil
	default:
		path := cc.Path
		if path == "" {
			var err error
			if path, err = credential.DefaultFilePath(); err != nil {
				return nil, nil, &config.FieldError{Field: "credentials.path", Err: err}
			}
		}
		f, err := credential.NewFile(path, baseURL)
		if err != nil {
			return nil, nil, &config.FieldError{Field: "credentials.path", Err: err}
		}
		return f, nil, nil
	}
}

// buildPublisher creates the configured completion publisher, or nil.
func buildPublisher(cfg config.AdapterConfig) (adapter.Adapter, error) {
	retries := defaultAdapterRetries
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}

	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		a, err := webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Secret:  cfg.Secret,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, &config.FieldError{Field: "adapter", Err: err}
		}
		return a, nil
	case "redis":
		a, err := redisadapter.New(redisadapter.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
		if err != nil {
			return nil, &config.FieldError{Field: "adapter", Err: err}
		}
		return a, nil
	default:
		return nil, &config.FieldError{Field: "adapter.type", Err: fmt.Errorf("unknown adapter %q", cfg.Type)}
	}
}

// display builds rendering settings from flags and config.
func (s *session) display(c *cli.Context) (render.Display, error) {
	d := render.Display{Currency: resolveString(c, "currency", s.config.Catalog.Currency)}
	if tz := resolveString(c, "tz", s.config.Catalog.TimeZone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return d, &config.FieldError{Field: "catalog.time_zone", Err: err}
		}
		d.Location = loc
	}
	return d, nil
}

// newCache creates a catalog cache over the session's transport.
func (s *session) newCache() *cache.Cache {
	return cache.New(s.client, cache.WithLogger(s.logger), cache.WithCollector(s.collector))
}

// newTracker creates an ingest tracker with the configured cadence.
func (s *session) newTracker(c *cli.Context) *ingest.Tracker {
	return ingest.NewTracker(s.client, ingest.Config{
		FastInterval: resolveDuration(c, "fast-interval", s.config.Ingest.FastInterval),
		IdleInterval: resolveDuration(c, "idle-interval", s.config.Ingest.IdleInterval),
		FastCycles:   s.config.Ingest.CompletionWaitCycles,
	}, ingest.WithLogger(s.logger), ingest.WithCollector(s.collector))
}

// newCoordinator wires the full synchronization engine. The caller owns
// the returned coordinator and must Close it.
func (s *session) newCoordinator(c *cli.Context) (*coordinator.Coordinator, error) {
	publisher, err := buildPublisher(s.config.Adapter)
	if err != nil {
		return nil, err
	}
	opts := []coordinator.Option{
		coordinator.WithLogger(s.logger),
		coordinator.WithCollector(s.collector),
		coordinator.WithSessionMeta(s.meta),
	}
	if publisher != nil {
		opts = append(opts, coordinator.WithPublisher(publisher))
		s.closers = append(s.closers, publisher.Close)
	}

	controller := query.NewController(resolveInt(c, "page-size", s.config.Catalog.PageSize))
	return coordinator.New(controller, s.newCache(), s.newTracker(c), coordinator.Config{
		CompletionWaitCycles: s.config.Ingest.CompletionWaitCycles,
	}, opts...), nil
}

func errWriter(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

func outWriter(c *cli.Context) io.Writer {
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

// commandContext returns the command's context, never nil.
func commandContext(c *cli.Context) context.Context {
	if c.Context != nil {
		return c.Context
	}
	return context.Background()
}
