package crawl

import (
	"path"
	"time"
)

// Entry is a single directory entry as reported by an InputSource.
type Entry struct {
	Name         string
	IsDir        bool
	IsSymlink    bool
	Size         int64
	LastModified time.Time
	// Key identifies the underlying object across aliases (device and inode
	// on unix). Empty when the source cannot provide one.
	Key string
}

// ScanItem is a filesystem entry observed during a walk.
type ScanItem struct {
	Name         string
	RealPath     string
	VirtualPath  string
	IsDir        bool
	Size         int64
	LastModified time.Time
	Checksum     string
}

// Directory is the unit the walker emits: one directory with its filtered
// files and subdirectories.
type Directory struct {
	RealPath    string
	VirtualPath string
	// Root is true for the job's root directory.
	Root bool
	// Items holds the files of the directory that passed the filters.
	Items []ScanItem
	// Subdirectories holds the child directories that passed the filters.
	Subdirectories []ScanItem
	// Failures counts entries that could not be read.
	Failures int
	// Unreadable is set when the directory could not be listed. Its prior
	// documents must be left alone.
	Unreadable bool
}

// VirtualPathOf joins a root-relative directory path and a name.
func VirtualPathOf(dir, name string) string {
	if dir == "" {
		dir = "/"
	}
	return path.Join(dir, name)
}
