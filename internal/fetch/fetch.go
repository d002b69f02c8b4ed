// Package fetch is the shared HTTP transport for every source adapter and the
// date ledger. It sets the browser User-Agent upstream sites expect, caps
// response size, and paces requests so a long backfill does not trip upstream
// rate limits.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// DefaultUserAgent mimics a desktop browser; several upstreams reject Go's default.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// StatusError is returned for any non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Code)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Config configures the client.
type Config struct {
	Timeout   time.Duration // per request. Default: 15s.
	MaxBytes  int64         // response body cap. Default: 10MB.
	UserAgent string
	// RequestsPerSecond paces outgoing requests. Zero or negative disables pacing.
	RequestsPerSecond float64
	// Transport overrides the underlying round tripper (tests, proxies).
	Transport http.RoundTripper
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
}

// Response is a fully read HTTP response.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Text returns the body as a string.
func (r *Response) Text() string { return string(r.Body) }

// Client performs paced GET and HEAD requests.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	config  Config
}

// New creates a Client.
func New(cfg Config) *Client {
	cfg.defaults()
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
		limiter: rate.NewLimiter(limit, 1),
		config:  cfg,
	}
}

// Get fetches url and returns the body. Non-2xx responses return a *StatusError.
// Extra headers are applied after the defaults.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	resp, err := c.do(ctx, http.MethodGet, url, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Response{
		URL:         url,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// Head returns the status code of a HEAD request.
func (c *Client) Head(ctx context.Context, url string) (int, error) {
	resp, err := c.do(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

func (c *Client) do(ctx context.Context, method, url string, headers map[string]string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	return resp, nil
}
