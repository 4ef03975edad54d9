// Package testutil provides shared fixtures for ckpt-sync tests: in-memory
// ZIP archives and an HTTP server that serves them.
package testutil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
)

// Entry is one file or directory in a test archive. Names ending in "/"
// are directories.
type Entry struct {
	Name string
	Data string
	Mode os.FileMode
}

// BuildZip returns a ZIP archive containing files, keyed by entry name.
// Entries are written in sorted order so archives are deterministic.
func BuildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, Entry{Name: name, Data: files[name]})
	}
	return BuildZipEntries(t, entries)
}

// BuildZipEntries returns a ZIP archive with the given entries in order.
// A non-zero Mode is recorded as the entry's Unix permission bits.
func BuildZipEntries(t *testing.T, entries []Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	modified := time.Date(2024, 4, 17, 12, 0, 0, 0, time.UTC)

	for _, e := range entries {
		hdr := &zip.FileHeader{
			Name:     e.Name,
			Method:   zip.Deflate,
			Modified: modified,
		}
		if e.Mode != 0 {
			hdr.SetMode(e.Mode)
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", e.Name, err)
		}
		if e.Data != "" {
			if _, err := w.Write([]byte(e.Data)); err != nil {
				t.Fatalf("write zip entry %s: %v", e.Name, err)
			}
		}
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// StartArchiveServer serves archives keyed by URL path (e.g. "/v2.zip").
// Unknown paths get a 404. The server is closed when the test ends.
func StartArchiveServer(t *testing.T, archives map[string][]byte) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := archives[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)
	return server
}
