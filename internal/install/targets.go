package install

import (
	"fmt"
	"os"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/shinji-kodama/ckpt-sync/internal/model"
)

// Targets maps checkpoint sets to the filesystems rooted at their target
// directories.
type Targets interface {
	// Open returns the target filesystem, creating the directory when it
	// does not exist yet.
	Open(set model.CheckpointSet) (billy.Filesystem, error)

	// Lookup returns the target filesystem, or nil when the directory does
	// not exist. It never creates anything.
	Lookup(set model.CheckpointSet) (billy.Filesystem, error)
}

// OSTargets resolves targets to directories on the local disk.
type OSTargets struct {
	// Resolve maps a set to its target path. Nil uses set.Target as is.
	Resolve func(set model.CheckpointSet) string
}

func (t OSTargets) path(set model.CheckpointSet) string {
	if t.Resolve == nil {
		return set.Target
	}
	return t.Resolve(set)
}

// Open implements Targets.
func (t OSTargets) Open(set model.CheckpointSet) (billy.Filesystem, error) {
	p := t.path(set)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create target %s: %v", model.ErrFilesystem, p, err)
	}
	return osfs.New(p), nil
}

// Lookup implements Targets.
func (t OSTargets) Lookup(set model.CheckpointSet) (billy.Filesystem, error) {
	p := t.path(set)
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: stat target %s: %v", model.ErrFilesystem, p, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: target %s is not a directory", model.ErrFilesystem, p)
	}
	return osfs.New(p), nil
}
