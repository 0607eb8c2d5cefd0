package datocms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"assetopt/internal/config"
	"assetopt/internal/services"
)

const (
	defaultBaseURL         = "https://site-api.datocms.com"
	defaultAPIVersion      = "3"
	defaultLocale          = "en"
	defaultPageSize        = 100
	defaultPollInterval    = 2 * time.Second
	defaultMaxPollAttempts = 60
	defaultFilename        = "optimized-image.jpg"
	maxErrorBody           = 4096
)

// HTTPDoer describes the HTTP client used to reach DatoCMS and storage.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the DatoCMS Content Management API.
type Client struct {
	token        string
	baseURL      string
	apiVersion   string
	environment  string
	locale       string
	pageSize     int
	pollInterval time.Duration
	maxAttempts  int
	limiter      *rate.Limiter
	httpClient   HTTPDoer
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the CMA endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAPIVersion sets the X-Api-Version header value.
func WithAPIVersion(version string) Option {
	return func(c *Client) {
		if version = strings.TrimSpace(version); version != "" {
			c.apiVersion = version
		}
	}
}

// WithEnvironment targets a sandbox environment via X-Environment.
func WithEnvironment(environment string) Option {
	return func(c *Client) {
		c.environment = strings.TrimSpace(environment)
	}
}

// WithLocale selects the default_field_metadata key used for alt/title.
func WithLocale(locale string) Option {
	return func(c *Client) {
		if locale = strings.TrimSpace(locale); locale != "" {
			c.locale = locale
		}
	}
}

// WithPageSize sets the catalog page limit.
func WithPageSize(size int) Option {
	return func(c *Client) {
		if size > 0 {
			c.pageSize = size
		}
	}
}

// WithRateLimit paces CMA calls to rps requests per second. Zero disables pacing.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithJobPolling sets the job-result polling interval and attempt cap.
func WithJobPolling(interval time.Duration, maxAttempts int) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
	}
}

// New creates a CMA client. The token is required.
func New(token string, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, services.Wrap(services.ErrConfiguration, "datocms", "new client", "api token required", nil)
	}
	client := &Client{
		token:        token,
		baseURL:      defaultBaseURL,
		apiVersion:   defaultAPIVersion,
		locale:       defaultLocale,
		pageSize:     defaultPageSize,
		pollInterval: defaultPollInterval,
		maxAttempts:  defaultMaxPollAttempts,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// NewFromConfig builds a client from the [datocms] and [jobs] sections.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "datocms", "new client", "config required", nil)
	}
	base := []Option{
		WithBaseURL(cfg.DatoCMS.BaseURL),
		WithAPIVersion(cfg.DatoCMS.APIVersion),
		WithEnvironment(cfg.DatoCMS.Environment),
		WithLocale(cfg.DatoCMS.Locale),
		WithPageSize(cfg.DatoCMS.PageSize),
		WithRateLimit(cfg.DatoCMS.RequestsPerSecond),
		WithJobPolling(time.Duration(cfg.Jobs.PollIntervalMS)*time.Millisecond, cfg.Jobs.MaxAttempts),
		WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.DatoCMS.RequestTimeout) * time.Second}),
	}
	return New(cfg.DatoCMS.APIToken, append(base, opts...)...)
}

// Locale reports the metadata locale this client reads.
func (c *Client) Locale() string {
	return c.locale
}

// newCMARequest builds a request against the CMA with the standard headers.
func (c *Client) newCMARequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Version", c.apiVersion)
	if c.environment != "" {
		req.Header.Set("X-Environment", c.environment)
	}
	return req, nil
}

// doCMA executes a CMA request, decoding a 2xx body into out when non-nil.
func (c *Client) doCMA(req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	resp, latency, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("%s %s (latency=%v): %w", req.Method, req.URL.Path, latency, err)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, time.Duration, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return nil, latency, fmt.Errorf("execute request (latency=%v): %w", latency, err)
	}
	return resp, latency, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &services.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
}
