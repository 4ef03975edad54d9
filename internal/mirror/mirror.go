// Package mirror copies an extracted checkpoint tree into its persistent
// target directory.
//
// Mirroring is additive: files are created or overwritten, directories are
// created, and nothing that already exists in the target is ever removed.
// File permission bits and modification times are carried over when the
// destination filesystem supports billy.Change, matching what `cp -a`
// would do.
//
// Both sides are billy filesystems. In production the destination is an
// osfs rooted at the target directory; tests use memfs.
package mirror

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/shinji-kodama/ckpt-sync/internal/model"
)

// Stats summarizes one Mirror call.
type Stats struct {
	// Files lists copied file paths relative to the destination root,
	// slash-separated and sorted.
	Files []string

	// Dirs is the number of directories visited below the source root.
	Dirs int

	// Bytes is the total size of the copied files.
	Bytes int64
}

// Mirror recursively copies the contents of srcRoot on src into the root of
// dst. The srcRoot directory itself is not recreated; its children become
// children of dst's root.
//
// Same-named destination files are overwritten; unrelated destination
// entries are left untouched. A destination directory standing where the
// source has a file, or the other way around, is a path collision and
// fails with model.ErrFilesystem. Mirroring the same source twice is
// idempotent.
func Mirror(ctx context.Context, src billy.Filesystem, srcRoot string, dst billy.Filesystem) (Stats, error) {
	var stats Stats

	err := util.Walk(src, srcRoot, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("%w: walk %s: %v", model.ErrFilesystem, path, walkErr)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return fmt.Errorf("%w: relativize %s: %v", model.ErrFilesystem, path, err)
		}
		if rel == "." {
			return nil
		}

		switch {
		case info.IsDir():
			stats.Dirs++
			return mkdir(dst, rel, info.Mode())
		case info.Mode().IsRegular():
			n, err := copyFile(ctx, src, path, dst, rel, info)
			if err != nil {
				return err
			}
			stats.Files = append(stats.Files, filepath.ToSlash(rel))
			stats.Bytes += n
			return nil
		default:
			return nil
		}
	})
	if err != nil {
		return stats, err
	}

	sort.Strings(stats.Files)
	return stats, nil
}

// mkdir creates rel on dst unless a directory already exists there.
func mkdir(dst billy.Filesystem, rel string, mode os.FileMode) error {
	if existing, err := dst.Stat(rel); err == nil {
		if !existing.IsDir() {
			return fmt.Errorf("%w: path collision: %s is a file in the target", model.ErrFilesystem, rel)
		}
		return nil
	}
	if err := dst.MkdirAll(rel, mode.Perm()|0o700); err != nil {
		return fmt.Errorf("%w: create directory %s: %v", model.ErrFilesystem, rel, err)
	}
	return nil
}

// copyFile copies one regular file and carries its mode and mtime over.
func copyFile(ctx context.Context, src billy.Filesystem, srcPath string, dst billy.Filesystem, rel string, info os.FileInfo) (int64, error) {
	if existing, err := dst.Stat(rel); err == nil && existing.IsDir() {
		return 0, fmt.Errorf("%w: path collision: %s is a directory in the target", model.ErrFilesystem, rel)
	}

	in, err := src.Open(srcPath)
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", model.ErrFilesystem, srcPath, err)
	}
	defer in.Close()

	if dir := filepath.Dir(rel); dir != "." {
		if err := dst.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("%w: create directory %s: %v", model.ErrFilesystem, dir, err)
		}
	}

	perm := info.Mode().Perm()
	out, err := dst.OpenFile(rel, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return 0, fmt.Errorf("%w: create %s: %v", model.ErrFilesystem, rel, err)
	}

	n, copyErr := io.Copy(out, &ctxReader{ctx: ctx, r: in})
	closeErr := out.Close()
	if copyErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return n, ctxErr
		}
		return n, fmt.Errorf("%w: copy %s: %v", model.ErrFilesystem, rel, copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("%w: close %s: %v", model.ErrFilesystem, rel, closeErr)
	}

	// OpenFile only applies perm to new files; an overwritten file keeps
	// its old mode unless we set it explicitly.
	if ch, ok := dst.(billy.Change); ok {
		if err := ch.Chmod(rel, perm); err != nil {
			return n, fmt.Errorf("%w: chmod %s: %v", model.ErrFilesystem, rel, err)
		}
		_ = ch.Chtimes(rel, info.ModTime(), info.ModTime())
	}
	return n, nil
}

// ctxReader stops a copy at the next read once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
