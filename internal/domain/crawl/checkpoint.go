package crawl

import (
	"maps"
	"slices"
	"time"
)

// DocumentRecord is what the checkpoint remembers about one indexed
// document: enough to classify the next observation of the same identifier.
type DocumentRecord struct {
	ID           string    `json:"id"`
	VirtualPath  string    `json:"virtual_path"`
	Directory    string    `json:"directory"`
	Folder       bool      `json:"folder,omitempty"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	Checksum     string    `json:"checksum,omitempty"`
	// Missing marks a record whose file vanished from its directory during
	// the current scan but may still be claimed by a later directory.
	Missing bool `json:"missing,omitempty"`
}

// Checkpoint is the persisted state of a job. Values are treated as
// immutable snapshots: writers build a new Checkpoint and replace the old
// one wholesale.
type Checkpoint struct {
	JobName string `json:"job_name"`
	ScanID  string `json:"scan_id,omitempty"`
	State   State  `json:"state"`

	LastScanStart time.Time  `json:"last_scan_start"`
	LastScanEnd   *time.Time `json:"last_scan_end"`
	// NextCheck nil forces a rescan that ignores the Documents baseline.
	NextCheck *time.Time `json:"next_check"`

	// PendingDirectories is the depth-first stack of directories discovered
	// but not processed, top of stack last.
	PendingDirectories []string `json:"pending_directories"`
	// CompletedDirectories holds the directories fully processed by the
	// current scan, sorted.
	CompletedDirectories []string `json:"completed_directories"`
	// UnreadableDirectories holds the directories of the current scan that
	// could not be listed. Records below them are never deleted.
	UnreadableDirectories []string `json:"unreadable_directories,omitempty"`

	Documents map[string]DocumentRecord `json:"documents"`

	FilesProcessed int64  `json:"files_processed"`
	FilesDeleted   int64  `json:"files_deleted"`
	Errors         int64  `json:"errors"`
	LastError      string `json:"last_error,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewCheckpoint returns the empty checkpoint of a job that never ran.
func NewCheckpoint(jobName string) *Checkpoint {
	return &Checkpoint{
		JobName:   jobName,
		State:     StateIdle,
		Documents: make(map[string]DocumentRecord),
	}
}

// Clone returns a deep copy of c.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	out := *c
	out.LastScanEnd = cloneTime(c.LastScanEnd)
	out.NextCheck = cloneTime(c.NextCheck)
	out.PendingDirectories = slices.Clone(c.PendingDirectories)
	out.CompletedDirectories = slices.Clone(c.CompletedDirectories)
	out.UnreadableDirectories = slices.Clone(c.UnreadableDirectories)
	out.Documents = maps.Clone(c.Documents)
	if out.Documents == nil {
		out.Documents = make(map[string]DocumentRecord)
	}
	return &out
}

// Due reports whether a new scan should start at now. A nil NextCheck is
// always due.
func (c *Checkpoint) Due(now time.Time) bool {
	return c.NextCheck == nil || !now.Before(*c.NextCheck)
}

// ForcedRescan reports whether the next scan must ignore the Documents
// baseline: a scan completed before and NextCheck was cleared since.
func (c *Checkpoint) ForcedRescan() bool {
	return c.NextCheck == nil && c.LastScanEnd != nil
}

// InProgress reports whether the checkpoint describes an unfinished scan
// that should be resumed rather than restarted from the root.
func (c *Checkpoint) InProgress() bool {
	return len(c.PendingDirectories) > 0
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
