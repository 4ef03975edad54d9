package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shinji-kodama/ckpt-sync/internal/model"
)

// HTTPOptions configures the HTTP client.
type HTTPOptions struct {
	// Timeout bounds a whole request including the body read. Zero means
	// the caller's context is the only bound.
	// Default: 0
	Timeout time.Duration

	// MaxRedirects is the number of redirects followed before giving up.
	// Default: 10
	MaxRedirects int

	// UserAgent is sent with every request.
	// Default: "ckpt-sync"
	UserAgent string
}

// DefaultHTTPOptions returns options with sensible defaults.
func DefaultHTTPOptions() HTTPOptions {
	return HTTPOptions{
		MaxRedirects: 10,
		UserAgent:    "ckpt-sync",
	}
}

// HTTPClient fetches archives over plain GET requests. It does not retry.
type HTTPClient struct {
	client *http.Client
	opts   HTTPOptions
}

// NewHTTPClient creates a new HTTP client with the given options.
func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultHTTPOptions().MaxRedirects
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultHTTPOptions().UserAgent
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Archives are already compressed.
	transport.DisableCompression = true

	maxRedirects := opts.MaxRedirects
	return &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		opts: opts,
	}
}

// Open performs a GET request and returns the response body on a 2xx
// status. Redirects are followed.
func (c *HTTPClient) Open(ctx context.Context, rawURL string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", model.ErrNetwork, err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, networkError(ctx, "get "+rawURL, err)
	}

	if err := checkStatusCode(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: get %s: %w (%s)", model.ErrNetwork, rawURL, err, resp.Status)
	}

	return &Download{
		Body: resp.Body,
		Size: resp.ContentLength,
		URL:  resp.Request.URL.String(),
	}, nil
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code >= 500:
		return ErrServerError
	default:
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, code)
	}
}
