package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/shinji-kodama/ckpt-sync/internal/model"
)

// Common errors. Every error returned by this package also wraps
// model.ErrNetwork, except write failures from Copy which wrap
// model.ErrFilesystem.
var (
	ErrNotFound          = errors.New("fetch: resource not found")
	ErrForbidden         = errors.New("fetch: access forbidden")
	ErrUnauthorized      = errors.New("fetch: unauthorized")
	ErrServerError       = errors.New("fetch: server error")
	ErrUnexpectedStatus  = errors.New("fetch: unexpected status")
	ErrUnsupportedScheme = errors.New("fetch: unsupported url scheme")
	ErrTimeout           = errors.New("fetch: timed out")
)

// Download is an open remote archive.
type Download struct {
	// Body streams the archive bytes. The caller must close it.
	Body io.ReadCloser

	// Size is the advertised length in bytes, or -1 if unknown.
	Size int64

	// URL is the location the bytes come from after redirects.
	URL string
}

// Fetcher opens remote archives.
type Fetcher interface {
	Open(ctx context.Context, rawURL string) (*Download, error)
}

// Mux dispatches Open calls to a Fetcher by URL scheme.
type Mux struct {
	schemes map[string]Fetcher
}

// NewMux returns a Mux serving http and https with h and s3 with s.
// Either may be nil, in which case its schemes are unsupported.
func NewMux(h *HTTPClient, s *S3Client) *Mux {
	m := &Mux{schemes: make(map[string]Fetcher)}
	if h != nil {
		m.Handle("http", h)
		m.Handle("https", h)
	}
	if s != nil {
		m.Handle("s3", s)
	}
	return m
}

// Handle registers f for scheme, replacing any previous registration.
func (m *Mux) Handle(scheme string, f Fetcher) {
	m.schemes[strings.ToLower(scheme)] = f
}

// Open implements Fetcher.
func (m *Mux) Open(ctx context.Context, rawURL string) (*Download, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse url %q: %v", model.ErrNetwork, rawURL, err)
	}
	f, ok := m.schemes[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q", model.ErrNetwork, ErrUnsupportedScheme, u.Scheme)
	}
	return f.Open(ctx, rawURL)
}

// Copy streams src into dst. Read failures are network errors and write
// failures are filesystem errors, so a full disk is not reported as a
// flaky connection.
func Copy(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 256*1024)
	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, fmt.Errorf("%w: write archive: %v", model.ErrFilesystem, werr)
			}
			if nw != nr {
				return written, fmt.Errorf("%w: write archive: %v", model.ErrFilesystem, io.ErrShortWrite)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, networkError(ctx, "read body", rerr)
		}
	}
}

// networkError wraps err with model.ErrNetwork, turning an expired
// deadline into ErrTimeout so the message says what happened.
func networkError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %s: %w", model.ErrNetwork, ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", model.ErrNetwork, op, err)
}
