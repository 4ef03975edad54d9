package archive

import (
	"path"
	"sort"
	"strings"

	billy "github.com/go-git/go-billy/v5"
)

// ResolveSource returns the effective source root of an extracted archive.
// If root contains a directory named hint directly beneath it, that
// directory is returned; its contents, not the directory itself, are what
// gets installed. Otherwise root is returned. An empty hint, or one that is
// not a single path element (".", "..", "a/b"), always yields root.
//
//	root/checkpoints_v2/model.bin, hint "checkpoints_v2" → root/checkpoints_v2
//	root/model.bin,                hint "checkpoints_v2" → root
func ResolveSource(fs billy.Filesystem, root, hint string) string {
	if !isPathElement(hint) {
		return root
	}
	candidate := fs.Join(root, hint)
	info, err := fs.Stat(candidate)
	if err != nil || !info.IsDir() {
		return root
	}
	return candidate
}

// isPathElement reports whether hint names a single directory entry, so
// that joining it to root stays directly beneath root.
func isPathElement(hint string) bool {
	clean := path.Clean(hint)
	return hint != "" && clean != "." && clean != ".." && !strings.ContainsAny(clean, `/\`)
}

// MissingPaths returns the entries of required that do not exist under
// root, sorted. Required paths are slash-separated and relative to root.
func MissingPaths(fs billy.Filesystem, root string, required []string) []string {
	var missing []string
	for _, p := range required {
		if _, err := fs.Stat(fs.Join(root, path.Clean(p))); err != nil {
			missing = append(missing, p)
		}
	}
	sort.Strings(missing)
	return missing
}
