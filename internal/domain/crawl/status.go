package crawl

import "time"

// Status is a point-in-time view of a job, safe to share between
// goroutines because it is never mutated after construction.
type Status struct {
	Job    string `json:"job"`
	State  State  `json:"state"`
	ScanID string `json:"scan_id,omitempty"`

	FilesProcessed       int64  `json:"files_processed"`
	FilesDeleted         int64  `json:"files_deleted"`
	Errors               int64  `json:"errors"`
	LastError            string `json:"last_error,omitempty"`
	CompletedDirectories int    `json:"completed_directories"`
	PendingDirectories   int    `json:"pending_directories"`

	LastScanStart time.Time  `json:"last_scan_start"`
	LastScanEnd   *time.Time `json:"last_scan_end,omitempty"`
	NextCheck     *time.Time `json:"next_check,omitempty"`
}

// StatusFromCheckpoint derives a Status from a persisted checkpoint.
func StatusFromCheckpoint(cp *Checkpoint) Status {
	return Status{
		Job:                  cp.JobName,
		State:                cp.State,
		ScanID:               cp.ScanID,
		FilesProcessed:       cp.FilesProcessed,
		FilesDeleted:         cp.FilesDeleted,
		Errors:               cp.Errors,
		LastError:            cp.LastError,
		CompletedDirectories: len(cp.CompletedDirectories),
		PendingDirectories:   len(cp.PendingDirectories),
		LastScanStart:        cp.LastScanStart,
		LastScanEnd:          cloneTime(cp.LastScanEnd),
		NextCheck:            cloneTime(cp.NextCheck),
	}
}
