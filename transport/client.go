// Package transport is the catalog backend's HTTP adapter.
//
// It attaches the bearer credential to every protected request, maps HTTP
// status codes to typed errors and decodes the JSON bodies the engine
// depends on. A 401 from any endpoint asks the credential store to clear
// the token; the adapter never retries it.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/catalogsync/credential"
	"github.com/pithecene-io/catalogsync/iox"
	"github.com/pithecene-io/catalogsync/log"
	"github.com/pithecene-io/catalogsync/metrics"
	"github.com/pithecene-io/catalogsync/types"
)

// DefaultTimeout is the default per-request timeout.
const DefaultTimeout = 15 * time.Second

// DefaultTriggerPath is the canonical ingest trigger endpoint.
const DefaultTriggerPath = "/ingest/run"

// DeprecatedTriggerPath is the older alias some deployments still expose.
const DeprecatedTriggerPath = "/ingest/run-all"

// MaxBodySize bounds response bodies read into memory.
const MaxBodySize = 32 << 20

// Endpoint paths.
const (
	pathProducts     = "/products"
	pathIngestStatus = "/ingest/status"
	pathLogin        = "/auth/login"
)

// Config configures the adapter.
type Config struct {
	// BaseURL is the API root, e.g. https://api.example.com (required).
	BaseURL string
	// Timeout is the per-request timeout (default 15s).
	Timeout time.Duration
	// TriggerPath overrides the ingest trigger endpoint (default /ingest/run).
	TriggerPath string
	// UserAgent is sent on every request when set.
	UserAgent string
}

// RawPage is an undecoded page of catalog rows.
// Numbers inside Items are json.Number so money values keep full precision.
type RawPage struct {
	Items    []map[string]any
	Page     int
	PageSize int
	Total    int
}

// StatusResponse is the decoded body of GET /ingest/status.
type StatusResponse struct {
	Busy          bool
	Status        string
	StartedAt     *time.Time
	LastSuccessAt *time.Time
}

// Client issues authenticated requests against the catalog backend.
// Safe for concurrent use.
type Client struct {
	config    Config
	base      *url.URL
	http      *http.Client
	creds     credential.Store
	logger    *log.Logger
	collector *metrics.Collector
	newID     func() string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger (default: discard).
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCollector records auth failures on the given collector.
func WithCollector(m *metrics.Collector) Option {
	return func(c *Client) { c.collector = m }
}

// New creates an adapter. creds is read on every protected request.
func New(cfg Config, creds credential.Store, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("transport requires a base URL")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("transport: invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("transport: base URL must be http or https, got %q", base.Scheme)
	}
	if creds == nil {
		return nil, errors.New("transport requires a credential store")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TriggerPath == "" {
		cfg.TriggerPath = DefaultTriggerPath
	}
	if !strings.HasPrefix(cfg.TriggerPath, "/") {
		cfg.TriggerPath = "/" + cfg.TriggerPath
	}

	c := &Client{
		config: cfg,
		base:   base,
		http:   &http.Client{Timeout: cfg.Timeout},
		creds:  creds,
		logger: log.Nop(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string { return c.base.String() }

// ListProducts fetches one raw page of products.
// page and page_size are always sent; q only when non-empty.
func (c *Client) ListProducts(ctx context.Context, key types.QueryKey) (*RawPage, error) {
	const op = "list_products"

	params := url.Values{}
	params.Set("page", strconv.Itoa(key.Page))
	params.Set("page_size", strconv.Itoa(key.PageSize))
	if key.Query != "" {
		params.Set("q", key.Query)
	}

	body, err := c.do(ctx, op, http.MethodGet, pathProducts, params, nil, true)
	if err != nil {
		return nil, err
	}

	var wire struct {
		Items    json.RawMessage `json:"items"`
		Page     *int            `json:"page"`
		PageSize *int            `json:"page_size"`
		Total    *int            `json:"total"`
	}
	if err := decodeJSON(body, &wire); err != nil {
		return nil, newError(ErrProtocol, op, pathProducts, http.StatusOK, err)
	}
	if items := bytes.TrimSpace(wire.Items); len(items) == 0 || bytes.Equal(items, []byte("null")) {
		return nil, newError(ErrProtocol, op, pathProducts, http.StatusOK, errors.New("missing items"))
	}

	var items []map[string]any
	if err := decodeJSON(wire.Items, &items); err != nil {
		return nil, newError(ErrProtocol, op, pathProducts, http.StatusOK, fmt.Errorf("items: %w", err))
	}

	page := &RawPage{Items: items, Page: key.Page, PageSize: key.PageSize}
	if wire.Page != nil && *wire.Page >= 1 {
		page.Page = *wire.Page
	}
	if wire.PageSize != nil && *wire.PageSize >= 1 {
		page.PageSize = *wire.PageSize
	}
	if wire.Total != nil && *wire.Total > 0 {
		page.Total = *wire.Total
	}
	return page, nil
}

// TriggerIngest asks the backend to start an ingest job.
// A 409 means a job is already running and is treated as accepted.
func (c *Client) TriggerIngest(ctx context.Context) error {
	const op = "trigger_ingest"

	_, err := c.do(ctx, op, http.MethodPost, c.config.TriggerPath, nil, nil, true)
	if err != nil && StatusCode(err) == http.StatusConflict {
		c.logger.Debug("ingest already running", map[string]any{"path": c.config.TriggerPath})
		return nil
	}
	return err
}

// IngestStatus fetches the current ingest job status.
func (c *Client) IngestStatus(ctx context.Context) (*StatusResponse, error) {
	const op = "ingest_status"

	body, err := c.do(ctx, op, http.MethodGet, pathIngestStatus, nil, nil, true)
	if err != nil {
		return nil, err
	}

	var wire struct {
		Busy          *bool   `json:"busy"`
		Status        *string `json:"status"`
		StartedAt     *string `json:"started_at"`
		LastSuccessAt *string `json:"last_success_at"`
	}
	if err := decodeJSON(body, &wire); err != nil {
		return nil, newError(ErrProtocol, op, pathIngestStatus, http.StatusOK, err)
	}
	if wire.Busy == nil && wire.Status == nil {
		return nil, newError(ErrProtocol, op, pathIngestStatus, http.StatusOK, errors.New("missing busy and status"))
	}

	resp := &StatusResponse{}
	if wire.Busy != nil {
		resp.Busy = *wire.Busy
	}
	if wire.Status != nil {
		resp.Status = *wire.Status
	}
	resp.StartedAt = optionalTime(wire.StartedAt)
	resp.LastSuccessAt = optionalTime(wire.LastSuccessAt)
	return resp, nil
}

// Login exchanges email and password for an access token.
// The token is returned, not stored: storing it is the caller's decision.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	const op = "login"

	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", fmt.Errorf("login: marshal body: %w", err)
	}

	body, err := c.do(ctx, op, http.MethodPost, pathLogin, nil, payload, false)
	if err != nil {
		return "", err
	}

	var wire struct {
		AccessToken string `json:"access_token"`
	}
	if err := decodeJSON(body, &wire); err != nil {
		return "", newError(ErrProtocol, op, pathLogin, http.StatusOK, err)
	}
	if wire.AccessToken == "" {
		return "", newError(ErrProtocol, op, pathLogin, http.StatusOK, errors.New("missing access_token"))
	}
	return wire.AccessToken, nil
}

// do performs one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, payload []byte, protected bool) ([]byte, error) {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}

	requestID := c.newID()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	if protected {
		token, err := c.creds.Get(ctx)
		if err != nil {
			c.collector.IncAuthFailure()
			if errors.Is(err, credential.ErrNoCredential) {
				return nil, newError(ErrAuth, op, path, 0, err)
			}
			return nil, fmt.Errorf("%s: read credential: %w", op, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyDoError(op, path, err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		c.collector.IncAuthFailure()
		// A rejected login says nothing about the stored token.
		if protected {
			if clearErr := c.creds.Clear(ctx); clearErr != nil {
				c.logger.Warn("credential clear failed", map[string]any{"error": clearErr.Error()})
			}
		}
		c.logger.Warn("backend rejected credential", map[string]any{
			"op":         op,
			"path":       path,
			"request_id": requestID,
		})
		return nil, newError(ErrAuth, op, path, resp.StatusCode, &StatusError{Code: resp.StatusCode})
	}

	body, err := iox.ReadLimited(resp.Body, MaxBodySize)
	if err != nil {
		if errors.Is(err, iox.ErrTooLarge) {
			return nil, newError(ErrProtocol, op, path, resp.StatusCode, err)
		}
		return nil, classifyDoError(op, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newError(ErrProtocol, op, path, resp.StatusCode, &StatusError{
			Code: resp.StatusCode,
			Body: snippet(body),
		})
	}

	return body, nil
}

// decodeJSON decodes with UseNumber so numeric values survive as json.Number.
// An empty body decodes as an empty object.
func decodeJSON(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode JSON: %w", err)
	}
	return nil
}

func optionalTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := types.ParseTimestamp(*s)
	if err != nil {
		return nil
	}
	return &t
}

// snippet trims a response body for error messages.
func snippet(body []byte) string {
	const maxSnippet = 200
	s := strings.TrimSpace(string(body))
	if len(s) > maxSnippet {
		return s[:maxSnippet] + "..."
	}
	return s
}
