// Package client fetches resources from the upstream HTTP source of truth.
// Its Fetcher functions are query suppliers: failures are classified so
// the retry controller retries server, rate limit and network errors and
// gives up on client errors at once.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/query-cache/pkg/logging"
	"github.com/Sternrassler/query-cache/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for upstream requests.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_requests_total",
		Help: "Total upstream requests by status",
	}, []string{"status"})

	upstreamRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

// DefaultUserAgent is sent when Config.UserAgent is empty.
const DefaultUserAgent = "query-cache/0.1.0"

// Config holds the client configuration.
type Config struct {
	// BaseURL is the absolute upstream URL that request paths are resolved
	// against (REQUIRED).
	BaseURL string

	// UserAgent header value.
	UserAgent string

	// Timeout bounds a single request.
	Timeout time.Duration

	// MaxBodyBytes limits how much of a response body is read.
	MaxBodyBytes int64
}

// DefaultConfig returns a default configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		UserAgent:    DefaultUserAgent,
		Timeout:      10 * time.Second,
		MaxBodyBytes: 10 << 20,
	}
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

// Client is the upstream HTTP client.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrInvalidConfig)
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base URL: %v", ErrInvalidConfig, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: base URL must be absolute (got %q)", ErrInvalidConfig, cfg.BaseURL)
	}

	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("%w: timeout must be >= 0 (got %v)", ErrInvalidConfig, cfg.Timeout)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		config:  cfg,
		logger:  logging.NewLogger("upstream"),
	}, nil
}

// URL resolves path and query against the base URL.
func (c *Client) URL(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.RawQuery = query.Encode()
	return u.String()
}

// Get performs one GET request. Any non-2xx status is returned as an
// *UpstreamError; client errors are additionally marked permanent with
// retry.Permanent.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	target := c.URL(path, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	start := time.Now()
	defer func() {
		upstreamRequestDuration.Observe(time.Since(start).Seconds())
	}()

	c.logger.Debug().
		Str("url", target).
		Msg("Executing upstream request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		upstreamRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, &UpstreamError{
			ErrorClass: ErrorClassNetwork,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 300 {
		errClass := classify(resp.StatusCode, nil)
		if errClass == "" {
			errClass = ErrorClassClient
		}
		upstreamErrorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Str("url", target).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Upstream request error")

		upErr := &UpstreamError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
		}
		if !upErr.Retryable() {
			return nil, retry.Permanent(upErr)
		}
		return nil, upErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodyBytes+1))
	if err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read body",
			Err:        err,
		}
	}
	if int64(len(body)) > c.config.MaxBodyBytes {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		c.logger.Warn().
			Str("url", target).
			Int64("max_body_bytes", c.config.MaxBodyBytes).
			Msg("Upstream response body too large")

		// The same resource will be just as large on the next attempt.
		return nil, retry.Permanent(&UpstreamError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassServer,
			Message:    fmt.Sprintf("response body too large (limit %d bytes)", c.config.MaxBodyBytes),
			Err:        ErrBodyTooLarge,
		})
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   time.Now(),
	}, nil
}

// Fetcher returns a supplier for one resource.
func (c *Client) Fetcher(path string, query url.Values) func(context.Context) (*Response, error) {
	return func(ctx context.Context) (*Response, error) {
		return c.Get(ctx, path, query)
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
