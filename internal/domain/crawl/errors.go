package crawl

import "errors"

var (
	// ErrAlreadyRunning is returned when a scan is started for a job whose
	// scan is already running.
	ErrAlreadyRunning = errors.New("crawl already running")

	// ErrInvalidState is returned when a control operation does not apply
	// to the job's current state.
	ErrInvalidState = errors.New("invalid crawl state")

	// ErrScanStartFailure is returned when the root of a job cannot be read
	// at scan start. It is fatal for the scan.
	ErrScanStartFailure = errors.New("scan start failure")

	// ErrCheckpointNotFound is returned by checkpoint stores when no
	// checkpoint exists for a job.
	ErrCheckpointNotFound = errors.New("checkpoint not found")
)
