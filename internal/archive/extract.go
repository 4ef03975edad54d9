// Package archive decompresses checkpoint ZIP archives into a scratch
// directory and works out which directory inside the result is the real
// root of the checkpoint set.
//
// Decoding uses github.com/klauspost/compress/zip, a drop-in replacement
// for archive/zip with faster inflate. Extraction writes through a
// billy.Filesystem so the scratch area can be memfs in tests.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/klauspost/compress/zip"

	"github.com/shinji-kodama/ckpt-sync/internal/model"
)

// macOSMetadataDir holds resource-fork metadata added by the macOS
// archiver. It never contains checkpoint files.
const macOSMetadataDir = "__MACOSX"

// Extract decompresses the ZIP archive in r (of the given size) into dir on
// fs and returns the number of regular files written.
//
// Behaviour:
//   - Directory entries are created, regular files are written with their
//     archived permission bits, and modification times are restored when
//     fs supports billy.Change.
//   - Symlinks and other special entries are skipped.
//   - Entries under __MACOSX/ are skipped.
//   - An entry whose name escapes dir ("zip-slip") aborts with ErrArchive.
//
// A payload that is not a ZIP archive, or that fails its CRC check, is
// reported as model.ErrArchive. Write failures are model.ErrFilesystem.
// The context is checked between entries and while copying file data.
func Extract(ctx context.Context, r io.ReaderAt, size int64, fs billy.Filesystem, dir string) (int, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return 0, fmt.Errorf("%w: open zip (%d bytes): %v", model.ErrArchive, size, err)
	}

	files := 0
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return files, err
		}

		rel, err := entryPath(f.Name)
		if err != nil {
			return files, err
		}
		if rel == "" || rel == macOSMetadataDir || strings.HasPrefix(rel, macOSMetadataDir+"/") {
			continue
		}
		target := fs.Join(dir, rel)

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := fs.MkdirAll(target, dirPerm(mode)); err != nil {
				return files, fmt.Errorf("%w: create %s: %v", model.ErrFilesystem, rel, err)
			}
		case mode.IsRegular():
			if err := extractFile(ctx, f, fs, target, rel); err != nil {
				return files, err
			}
			files++
		default:
			// Symlinks, devices and the like are not part of checkpoint sets.
		}
	}

	return files, nil
}

// entryPath normalizes an archive entry name to a clean slash-separated
// relative path. Names that are absolute or climb out of the extraction
// root are rejected.
func entryPath(name string) (string, error) {
	name = strings.ReplaceAll(name, `\`, "/")
	if path.IsAbs(name) || (len(name) > 1 && name[1] == ':') {
		return "", fmt.Errorf("%w: entry %q has an absolute path", model.ErrArchive, name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: entry %q escapes the extraction directory", model.ErrArchive, name)
	}
	if clean == "." {
		return "", nil
	}
	return clean, nil
}

// extractFile writes one regular file entry to target.
func extractFile(ctx context.Context, f *zip.File, fs billy.Filesystem, target, rel string) error {
	if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("%w: create parent of %s: %v", model.ErrFilesystem, rel, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: open entry %s: %v", model.ErrArchive, rel, err)
	}
	defer rc.Close()

	out, err := fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm(f.Mode()))
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", model.ErrFilesystem, rel, err)
	}

	src := &entryReader{ctx: ctx, r: rc}
	_, copyErr := io.Copy(out, src)
	closeErr := out.Close()

	switch {
	case src.err != nil && (errors.Is(src.err, context.Canceled) || errors.Is(src.err, context.DeadlineExceeded)):
		return src.err
	case src.err != nil:
		return fmt.Errorf("%w: read entry %s: %v", model.ErrArchive, rel, src.err)
	case copyErr != nil:
		return fmt.Errorf("%w: write %s: %v", model.ErrFilesystem, rel, copyErr)
	case closeErr != nil:
		return fmt.Errorf("%w: close %s: %v", model.ErrFilesystem, rel, closeErr)
	}

	if ch, ok := fs.(billy.Change); ok && !f.Modified.IsZero() {
		_ = ch.Chtimes(target, f.Modified, f.Modified)
	}
	return nil
}

// entryReader remembers read-side failures so they can be told apart from
// write failures after io.Copy returns.
type entryReader struct {
	ctx context.Context
	r   io.Reader
	err error
}

func (e *entryReader) Read(p []byte) (int, error) {
	if err := e.ctx.Err(); err != nil {
		e.err = err
		return 0, err
	}
	n, err := e.r.Read(p)
	if err != nil && err != io.EOF {
		e.err = err
	}
	return n, err
}

// filePerm keeps the archived permission bits, falling back to 0644 for
// archives that do not record them.
func filePerm(mode os.FileMode) os.FileMode {
	perm := mode.Perm()
	if perm == 0 {
		return 0o644
	}
	return perm | 0o200
}

// dirPerm makes sure extracted directories stay traversable.
func dirPerm(mode os.FileMode) os.FileMode {
	return mode.Perm() | 0o700
}
