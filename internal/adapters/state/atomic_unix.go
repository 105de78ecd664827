//go:build !windows

package state

import (
	"os"

	"github.com/google/renameio/v2"
)

// atomicWriteFile replaces the file at path with data in one step.
// renameio stages a temp file in the same directory and renames it
// over the target, so a crash mid-write leaves the old record intact.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}
