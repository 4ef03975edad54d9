// Package report lists the files installed under each checkpoint target,
// grouped and labelled by checkpoint set.
//
// The listing is bounded in depth (three levels by default) because a
// checkpoint tree is shallow and the summary is meant for a terminal, not
// as a full inventory.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/shinji-kodama/ckpt-sync/internal/model"
)

// DefaultMaxDepth is how many directory levels below a target are listed.
const DefaultMaxDepth = 3

// Group is the listing for one checkpoint set.
type Group struct {
	// Label is the checkpoint set label used as the line prefix.
	Label string `json:"label"`

	// Target is the target directory as configured.
	Target string `json:"target"`

	// Files are slash-separated paths relative to Target, sorted.
	Files []string `json:"files"`
}

// Report is the listing for all configured sets, in set order.
type Report struct {
	Groups []Group `json:"sets"`
}

// Opener returns the filesystem rooted at a set's target, or nil if the
// target does not exist yet.
type Opener func(set model.CheckpointSet) (billy.Filesystem, error)

// Collect enumerates regular files on fs at most maxDepth levels deep
// (a file directly under the root is at depth 1) and returns their
// slash-separated paths sorted lexicographically. A maxDepth below 1
// means DefaultMaxDepth.
func Collect(fs billy.Filesystem, maxDepth int) ([]string, error) {
	if maxDepth < 1 {
		maxDepth = DefaultMaxDepth
	}

	files := []string{}
	if _, err := fs.Stat("/"); os.IsNotExist(err) {
		return files, nil
	}
	err := util.Walk(fs, "/", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel("/", p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		depth := strings.Count(rel, "/") + 1
		if info.IsDir() {
			if depth >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Mode().IsRegular() && depth <= maxDepth {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list files: %v", model.ErrFilesystem, err)
	}

	sort.Strings(files)
	return files, nil
}

// Build collects the listing of every set. Sets whose target does not
// exist get an empty group.
func Build(sets []model.CheckpointSet, open Opener, maxDepth int) (Report, error) {
	r := Report{Groups: make([]Group, 0, len(sets))}
	for _, set := range sets {
		g := Group{Label: set.Label, Target: set.Target, Files: []string{}}

		fs, err := open(set)
		if err != nil {
			return r, fmt.Errorf("open target of %s: %w", set.Label, err)
		}
		if fs != nil {
			files, err := Collect(fs, maxDepth)
			if err != nil {
				return r, fmt.Errorf("list %s: %w", set.Label, err)
			}
			g.Files = files
		}
		r.Groups = append(r.Groups, g)
	}
	return r, nil
}

// WriteText prints one line per file, "<label>: <target>/<path>", grouped
// by set in set order and sorted within each group. Sets without files get
// a single explanatory line.
//
// Example:
//
//	v1: checkpoints/base_speakers/EN/checkpoint.pth
//	v1: checkpoints/base_speakers/EN/config.json
//	v2: checkpoints_v2/converter/checkpoint.pth
func WriteText(w io.Writer, r Report) error {
	for _, g := range r.Groups {
		if len(g.Files) == 0 {
			if _, err := fmt.Fprintf(w, "%s: no files in %s\n", g.Label, g.Target); err != nil {
				return err
			}
			continue
		}
		for _, f := range g.Files {
			if _, err := fmt.Fprintf(w, "%s: %s\n", g.Label, path.Join(filepath.ToSlash(g.Target), f)); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteJSON prints the report as indented JSON.
func WriteJSON(w io.Writer, r Report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
