package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/query-cache/internal/testutil"
	"github.com/Sternrassler/query-cache/pkg/retry"
)

func newTestClient(t *testing.T, mock *testutil.MockUpstream) *Client {
	t.Helper()

	c, err := New(DefaultConfig(mock.URL()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{name: "valid config", config: DefaultConfig("https://api.example.com"), expectError: false},
		{name: "missing base URL", config: Config{}, expectError: true},
		{name: "relative base URL", config: Config{BaseURL: "/api"}, expectError: true},
		{name: "negative timeout", config: Config{BaseURL: "https://api.example.com", Timeout: -time.Second}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.expectError {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("New() error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() unexpected error = %v", err)
			}
			if c == nil {
				t.Error("New() returned nil client")
			}
		})
	}
}

func TestClient_URL(t *testing.T) {
	c, err := New(DefaultConfig("https://api.example.com/v1/"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got := c.URL("/users/1", url.Values{"fields": {"name"}})
	want := "https://api.example.com/v1/users/1?fields=name"
	if got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

func TestClient_Get_Success(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse("/users/1", testutil.NewJSONResponse(`{"name":"Ana"}`))

	c := newTestClient(t, mock)
	resp, err := c.Get(context.Background(), "/users/1", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if string(resp.Body) != `{"name":"Ana"}` {
		t.Errorf("Body = %q", resp.Body)
	}
	if resp.ContentType != "application/json; charset=utf-8" {
		t.Errorf("ContentType = %q", resp.ContentType)
	}
	if mock.RequestCount("/users/1") != 1 {
		t.Errorf("RequestCount = %d, want 1", mock.RequestCount("/users/1"))
	}
}

func TestClient_Get_Errors(t *testing.T) {
	tests := []struct {
		name          string
		response      testutil.MockResponse
		wantClass     ErrorClass
		wantPermanent bool
	}{
		{name: "not found", response: testutil.NewNotFoundResponse(), wantClass: ErrorClassClient, wantPermanent: true},
		{name: "server error", response: testutil.NewServerErrorResponse(), wantClass: ErrorClassServer, wantPermanent: false},
		{name: "rate limited", response: testutil.MockResponse{StatusCode: http.StatusTooManyRequests}, wantClass: ErrorClassRateLimit, wantPermanent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockUpstream()
			defer mock.Close()
			mock.SetResponse("/r", tt.response)

			c := newTestClient(t, mock)
			_, err := c.Get(context.Background(), "/r", nil)

			var upErr *UpstreamError
			if !errors.As(err, &upErr) {
				t.Fatalf("error type = %T, want *UpstreamError", err)
			}
			if upErr.ErrorClass != tt.wantClass {
				t.Errorf("ErrorClass = %q, want %q", upErr.ErrorClass, tt.wantClass)
			}
			if upErr.StatusCode != tt.response.StatusCode {
				t.Errorf("StatusCode = %d, want %d", upErr.StatusCode, tt.response.StatusCode)
			}
			if got := retry.IsPermanent(err); got != tt.wantPermanent {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.wantPermanent)
			}
		})
	}
}

func TestClient_Get_NetworkError(t *testing.T) {
	mock := testutil.NewMockUpstream()
	c := newTestClient(t, mock)
	mock.Close()

	_, err := c.Get(context.Background(), "/r", nil)

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("error type = %T, want *UpstreamError", err)
	}
	if upErr.ErrorClass != ErrorClassNetwork {
		t.Errorf("ErrorClass = %q, want network", upErr.ErrorClass)
	}
	if retry.IsPermanent(err) {
		t.Error("network error marked permanent")
	}
}

func TestClient_Fetcher_WithRetry(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()
	mock.SetResponse("/flaky", testutil.NewServerErrorResponse())

	c := newTestClient(t, mock)
	fetch := c.Fetcher("/flaky", nil)

	ctrl := retry.NewController(retry.Policy{MaxRetries: 2, Delay: time.Millisecond}, c.logger)
	err := ctrl.Do(context.Background(), func(ctx context.Context) error {
		_, err := fetch(ctx)
		return err
	})

	if !errors.Is(err, retry.ErrRetryExhausted) {
		t.Errorf("Do() error = %v, want ErrRetryExhausted", err)
	}
	if got := mock.RequestCount("/flaky"); got != 3 {
		t.Errorf("RequestCount = %d, want 3", got)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestClient_SetHTTPClient(t *testing.T) {
	c, err := New(DefaultConfig("http://upstream.invalid"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var got *http.Request
	c.SetHTTPClient(&http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		got = r
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"text/plain"}},
			Body:       io.NopCloser(strings.NewReader("ok")),
			Request:    r,
		}, nil
	})})

	resp, err := c.Get(context.Background(), "/stats", url.Values{"window": {"1h"}})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(resp.Body) != "ok" {
		t.Errorf("Body = %q, want ok", resp.Body)
	}
	if got == nil {
		t.Fatal("custom transport was not used")
	}
	if got.URL.String() != "http://upstream.invalid/stats?window=1h" {
		t.Errorf("URL = %s, want http://upstream.invalid/stats?window=1h", got.URL)
	}
	if got.Header.Get("User-Agent") == "" {
		t.Error("User-Agent header not set")
	}
}

func TestClient_Get_BodyLimit(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{name: "below limit", size: 9},
		{name: "at limit", size: 10},
		{name: "one byte over", size: 11, wantErr: true},
		{name: "far over", size: 100, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockUpstream()
			defer mock.Close()
			mock.SetResponse("/big", testutil.NewJSONResponse(strings.Repeat("x", tt.size)))

			cfg := DefaultConfig(mock.URL())
			cfg.MaxBodyBytes = 10
			c, err := New(cfg)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			resp, err := c.Get(context.Background(), "/big", nil)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if len(resp.Body) != tt.size {
					t.Errorf("len(Body) = %d, want %d", len(resp.Body), tt.size)
				}
				return
			}

			if err == nil {
				t.Fatalf("Get() returned %d bytes, want an error", len(resp.Body))
			}
			if !errors.Is(err, ErrBodyTooLarge) {
				t.Errorf("errors.Is(err, ErrBodyTooLarge) = false, err = %v", err)
			}
			if !retry.IsPermanent(err) {
				t.Error("oversized body not marked permanent")
			}
			var upErr *UpstreamError
			if !errors.As(err, &upErr) || upErr.StatusCode != http.StatusOK {
				t.Errorf("error = %v, want *UpstreamError with status 200", err)
			}
		})
	}
}
