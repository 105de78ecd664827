// Package fsutil holds small filesystem helpers shared by the state
// store, session registry, and gate rule loader. Reads go through an
// os.Root pinned to the file's parent directory, so a path component
// swapped for a symlink after validation cannot redirect the read
// outside that directory.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReadFileScoped reads the file at path with access confined to its
// parent directory. The final path element must name a regular entry;
// a symlink that resolves outside the parent is refused by the root.
func ReadFileScoped(path string) ([]byte, error) {
	cleaned := filepath.Clean(path)
	dir := filepath.Dir(cleaned)
	base := filepath.Base(cleaned)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid file path: %q", path)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	file, err := root.Open(base)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}
