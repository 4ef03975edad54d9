package scratch

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CreatesArchiveAndDir(t *testing.T) {
	fs := memfs.New()

	ws, err := New(fs, "ckpt-sync-v2-")
	require.NoError(t, err)
	defer ws.Close()

	assert.True(t, strings.Contains(ws.ArchiveName(), "ckpt-sync-v2-archive-"))
	assert.True(t, strings.Contains(ws.Dir(), "ckpt-sync-v2-extract-"))

	info, err := fs.Stat(ws.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// The archive handle must be writable and readable at an offset,
	// which is what fetch and extraction need respectively.
	_, err = ws.Archive().Write([]byte("PK-data"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = ws.Archive().ReadAt(buf, 3)
	if err != nil && err != io.EOF {
		require.NoError(t, err)
	}
	assert.Equal(t, "data", string(buf))
}

func TestNew_UniqueNames(t *testing.T) {
	fs := memfs.New()

	a, err := New(fs, "p-")
	require.NoError(t, err)
	defer a.Close()
	b, err := New(fs, "p-")
	require.NoError(t, err)
	defer b.Close()

	assert.NotEqual(t, a.ArchiveName(), b.ArchiveName())
	assert.NotEqual(t, a.Dir(), b.Dir())
}

func TestClose_RemovesEverything(t *testing.T) {
	fs := memfs.New()

	ws, err := New(fs, "ckpt-sync-v1-")
	require.NoError(t, err)

	// Simulate a populated extraction tree.
	require.NoError(t, util.WriteFile(fs, fs.Join(ws.Dir(), "checkpoints", "a.bin"), []byte("a"), 0o644))
	_, err = ws.Archive().Write([]byte("zip bytes"))
	require.NoError(t, err)

	require.NoError(t, ws.Close())

	_, err = fs.Stat(ws.ArchiveName())
	assert.True(t, os.IsNotExist(err), "archive should be removed, got %v", err)
	_, err = fs.Stat(ws.Dir())
	assert.True(t, os.IsNotExist(err), "extraction dir should be removed, got %v", err)
}

func TestClose_Idempotent(t *testing.T) {
	fs := memfs.New()

	ws, err := New(fs, "x-")
	require.NoError(t, err)

	require.NoError(t, ws.Close())
	assert.NoError(t, ws.Close())
}
