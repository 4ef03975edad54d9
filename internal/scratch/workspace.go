// Package scratch allocates the temporary resources used by a single
// fetch-and-install pass: one archive file and one extraction directory.
//
// Both are uniquely named and owned by a Workspace handle. Callers defer
// Workspace.Close right after New, so the archive and the extraction tree
// are removed on success, on error and on cancellation alike. Nothing is
// left for OS temp reaping.
//
// The workspace lives on a billy.Filesystem so that tests can run every
// pass against memfs without touching the real temp directory.
package scratch

import (
	"fmt"
	"os"
	"sync"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/shinji-kodama/ckpt-sync/internal/model"
)

// Workspace is a scoped pair of temporary archive file and extraction
// directory. It is not safe for concurrent use; a pass owns exactly one.
type Workspace struct {
	// fs is the filesystem both temporary entries live on.
	fs billy.Filesystem

	// archive is the open read/write handle of the temporary archive.
	archive billy.File

	// archiveName is the path of archive on fs, kept for removal.
	archiveName string

	// dir is the extraction directory on fs.
	dir string

	closeOnce sync.Once
	closeErr  error
}

// OSFilesystem returns a billy filesystem rooted at the OS temp directory.
// It is the production backing store for workspaces.
func OSFilesystem() billy.Filesystem {
	return osfs.New(os.TempDir())
}

// New creates a uniquely named archive file and extraction directory on fs.
// The prefix is used for both names, e.g. "ckpt-sync-v2-".
//
// If the directory cannot be created, the already-created archive file is
// removed before returning, so a failed New leaves nothing behind.
func New(fs billy.Filesystem, prefix string) (*Workspace, error) {
	f, err := util.TempFile(fs, ".", prefix+"archive-")
	if err != nil {
		return nil, fmt.Errorf("%w: create temporary archive: %v", model.ErrFilesystem, err)
	}

	dir, err := util.TempDir(fs, ".", prefix+"extract-")
	if err != nil {
		_ = f.Close()
		_ = fs.Remove(f.Name())
		return nil, fmt.Errorf("%w: create extraction directory: %v", model.ErrFilesystem, err)
	}

	return &Workspace{
		fs:          fs,
		archive:     f,
		archiveName: f.Name(),
		dir:         dir,
	}, nil
}

// FS returns the filesystem the workspace lives on.
func (w *Workspace) FS() billy.Filesystem {
	return w.fs
}

// Archive returns the open temporary archive file. It supports writing
// (during the fetch) and io.ReaderAt (during extraction).
func (w *Workspace) Archive() billy.File {
	return w.archive
}

// ArchiveName returns the path of the temporary archive on FS.
func (w *Workspace) ArchiveName() string {
	return w.archiveName
}

// Dir returns the extraction directory on FS.
func (w *Workspace) Dir() string {
	return w.dir
}

// Close closes and deletes the archive file and removes the extraction
// directory with everything in it. It is safe to call more than once;
// later calls return the first call's result.
func (w *Workspace) Close() error {
	w.closeOnce.Do(func() {
		var errs []error
		if err := w.archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close archive: %w", err))
		}
		if err := w.fs.Remove(w.archiveName); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove archive: %w", err))
		}
		if err := util.RemoveAll(w.fs, w.dir); err != nil {
			errs = append(errs, fmt.Errorf("remove extraction dir: %w", err))
		}
		if len(errs) > 0 {
			w.closeErr = fmt.Errorf("%w: cleanup %s: %v", model.ErrFilesystem, w.dir, errs)
		}
	})
	return w.closeErr
}
