package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/ckpt-sync/internal/model"
)

func TestHTTPClient_Open(t *testing.T) {
	payload := []byte("PK\x03\x04 not really a zip")

	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	c := NewHTTPClient(DefaultHTTPOptions())
	dl, err := c.Open(context.Background(), server.URL+"/checkpoints.zip")
	require.NoError(t, err)
	defer dl.Body.Close()

	var buf bytes.Buffer
	n, err := Copy(context.Background(), &buf, dl.Body)
	require.NoError(t, err)

	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, int64(len(payload)), dl.Size)
	assert.Equal(t, payload, buf.Bytes())
	assert.Equal(t, "ckpt-sync", gotUA)
}

func TestHTTPClient_FollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old.zip", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new.zip", http.StatusFound)
	})
	mux.HandleFunc("/new.zip", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("moved"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := NewHTTPClient(DefaultHTTPOptions())
	dl, err := c.Open(context.Background(), server.URL+"/old.zip")
	require.NoError(t, err)
	defer dl.Body.Close()

	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, "moved", string(body))
	assert.True(t, strings.HasSuffix(dl.URL, "/new.zip"))
}

func TestHTTPClient_RedirectLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer server.Close()

	c := NewHTTPClient(HTTPOptions{MaxRedirects: 3})
	_, err := c.Open(context.Background(), server.URL+"/a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNetwork))
	assert.Contains(t, err.Error(), "stopped after 3 redirects")
}

// TestHTTPClient_StatusErrors verifies each non-2xx class maps to its
// sentinel error and is always a network error.
func TestHTTPClient_StatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"forbidden", http.StatusForbidden, ErrForbidden},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"server error", http.StatusBadGateway, ErrServerError},
		{"teapot", http.StatusTeapot, ErrUnexpectedStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			c := NewHTTPClient(DefaultHTTPOptions())
			dl, err := c.Open(context.Background(), server.URL)
			require.Error(t, err)
			assert.Nil(t, dl)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, errors.Is(err, model.ErrNetwork), "got %v", err)
		})
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewHTTPClient(DefaultHTTPOptions())
	_, err := c.Open(ctx, server.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "got %v", err)
	assert.True(t, errors.Is(err, model.ErrNetwork))
	assert.Contains(t, err.Error(), "timed out")
}

func TestHTTPClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()

	c := NewHTTPClient(DefaultHTTPOptions())
	_, err := c.Open(context.Background(), addr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNetwork))
}

func TestMux_Dispatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	m := NewMux(NewHTTPClient(DefaultHTTPOptions()), nil)

	dl, err := m.Open(context.Background(), server.URL)
	require.NoError(t, err)
	dl.Body.Close()

	_, err = m.Open(context.Background(), "ftp://example.com/a.zip")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedScheme))
	assert.True(t, errors.Is(err, model.ErrNetwork))

	// s3 is unsupported when no S3 client was configured.
	_, err = m.Open(context.Background(), "s3://bucket/key.zip")
	assert.True(t, errors.Is(err, ErrUnsupportedScheme))
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("no space left on device")
}

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

// TestCopy_ClassifiesFailures checks that write failures are filesystem
// errors and read failures are network errors.
func TestCopy_ClassifiesFailures(t *testing.T) {
	_, err := Copy(context.Background(), failingWriter{}, strings.NewReader("data"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrFilesystem))
	assert.False(t, errors.Is(err, model.ErrNetwork))

	_, err = Copy(context.Background(), io.Discard, failingReader{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNetwork))
	assert.False(t, errors.Is(err, model.ErrFilesystem))
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		input      string
		wantBucket string
		wantKey    string
		hasError   bool
	}{
		{"s3://models/openvoice/checkpoints_v2_0417.zip", "models", "openvoice/checkpoints_v2_0417.zip", false},
		{"s3://bucket/key.zip", "bucket", "key.zip", false},
		{"s3://bucket", "", "", true},
		{"s3:///key.zip", "", "", true},
		{"https://bucket/key.zip", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			bucket, key, err := parseS3URL(tt.input)
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestNewS3Client_Defaults(t *testing.T) {
	c, err := NewS3Client(S3Options{})
	require.NoError(t, err)
	require.NotNil(t, c)

	m := NewMux(nil, c)
	_, ok := m.schemes["s3"]
	assert.True(t, ok)
	_, ok = m.schemes["https"]
	assert.False(t, ok)
}
