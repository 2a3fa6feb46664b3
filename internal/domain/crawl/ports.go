package crawl

import (
	"context"
	"io"
)

// InputSource is the narrow view of a content tree the crawler needs.
// Local disks, in-memory trees and remote transports implement it.
type InputSource interface {
	// Stat describes a single path.
	Stat(ctx context.Context, path string) (Entry, error)
	// ListDirectory returns the entries of a directory.
	ListDirectory(ctx context.Context, path string) ([]Entry, error)
	// Open returns the content of a file.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Join builds a child path using the source's separator rules.
	Join(dir, name string) string
}

// ExtractHints carries what the extractor may want to know about a file.
type ExtractHints struct {
	Name     string
	Size     int64
	MaxChars int
}

// Content is the result of extracting text from a file.
type Content struct {
	Text        string
	ContentType string
	Metadata    map[string]string
}

// ContentExtractor turns file bytes into text and metadata.
type ContentExtractor interface {
	Extract(ctx context.Context, r io.Reader, hints ExtractHints) (Content, error)
}

// CheckpointStore persists one checkpoint per job.
type CheckpointStore interface {
	// Load returns ErrCheckpointNotFound when the job has no checkpoint.
	Load(ctx context.Context, jobName string) (*Checkpoint, error)
	// Save atomically replaces the job's checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error
	// Delete removes the job's checkpoint. Deleting a missing checkpoint is
	// not an error.
	Delete(ctx context.Context, jobName string) error
}

// PriorLookup answers which documents the index already holds for a
// directory. It seeds delta detection when a job has no checkpoint.
type PriorLookup interface {
	DocumentsInDirectory(ctx context.Context, index, directory string) ([]DocumentRecord, error)
}
