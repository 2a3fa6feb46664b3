package crawl

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// DefaultUpdateRate is how long a completed scan waits before the next one.
const DefaultUpdateRate = 15 * time.Minute

// Job identifies one configured crawl target. A Job is built once from
// configuration and never mutated afterwards.
type Job struct {
	Name string
	Root string

	Includes []string
	Excludes []string
	// Filters are content regular expressions; a file is indexed only when
	// its extracted text matches every filter.
	Filters []string

	UpdateRate time.Duration

	FollowSymlinks bool
	RemoveDeleted  bool
	FilenameAsID   bool
	IndexFolders   bool
	IndexContent   bool
	AddFileSize    bool
	// LiveLookup asks the index for the documents of a directory when no
	// checkpoint baseline exists.
	LiveLookup bool

	// Checksum names the digest used for change detection and the
	// file.checksum field. Empty disables checksums.
	Checksum     string
	IndexedChars int
	IgnoreAbove  int64

	Index       string
	FolderIndex string
	Pipeline    string
}

// NewJob validates j and fills in defaults for unset fields.
func NewJob(j Job) (*Job, error) {
	if j.Name == "" {
		return nil, errors.New("job name is required")
	}
	if j.Root == "" {
		return nil, fmt.Errorf("job %s: root location is required", j.Name)
	}
	switch j.Checksum {
	case "", "md5", "sha1", "sha256", "sha512":
	default:
		return nil, fmt.Errorf("job %s: unsupported checksum algorithm %q", j.Name, j.Checksum)
	}
	if j.UpdateRate <= 0 {
		j.UpdateRate = DefaultUpdateRate
	}
	if j.Index == "" {
		j.Index = j.Name
	}
	if j.FolderIndex == "" {
		j.FolderIndex = j.Index + "_folder"
	}

	job := j
	job.Includes = slices.Clone(j.Includes)
	job.Excludes = slices.Clone(j.Excludes)
	job.Filters = slices.Clone(j.Filters)
	return &job, nil
}
