//go:build !unix

package local

import (
	"io/fs"
	"path/filepath"
)

// fileKey falls back to the fully resolved path.
func fileKey(path string, _ fs.FileInfo) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return ""
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return resolved
	}
	return abs
}
