// Package file persists checkpoints as one JSON document per job.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
	"github.com/fscrawl/fscrawl/internal/infra/storage"
)

var _ crawl.CheckpointStore = (*Store)(nil)

const suffix = "_checkpoint.json"

// Store keeps checkpoints under a directory. Writes go to a temporary file
// in the same directory that is synced and then renamed over the previous
// checkpoint, so readers see either the old or the new document.
type Store struct {
	fs     afero.Fs
	dir    string
	tracer trace.Tracer
}

// NewStore creates the directory if needed.
func NewStore(fsys afero.Fs, dir string, tracer trace.Tracer) (*Store, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir %s: %w", dir, err)
	}
	return &Store{fs: fsys, dir: dir, tracer: tracer}, nil
}

// Path returns the file that holds the checkpoint of jobName.
func (s *Store) Path(jobName string) string {
	return filepath.Join(s.dir, sanitize(jobName)+suffix)
}

// Load reads the job's checkpoint.
func (s *Store) Load(ctx context.Context, jobName string) (*crawl.Checkpoint, error) {
	var cp *crawl.Checkpoint
	err := storage.ExecuteAndTrace(ctx, s.tracer, "file.load_checkpoint",
		[]attribute.KeyValue{attribute.String("job", jobName)},
		func(ctx context.Context) error {
			data, err := afero.ReadFile(s.fs, s.Path(jobName))
			if errors.Is(err, fs.ErrNotExist) {
				return crawl.ErrCheckpointNotFound
			}
			if err != nil {
				return fmt.Errorf("reading checkpoint: %w", err)
			}
			cp = new(crawl.Checkpoint)
			if err := json.Unmarshal(data, cp); err != nil {
				return fmt.Errorf("decoding checkpoint %s: %w", s.Path(jobName), err)
			}
			if cp.Documents == nil {
				cp.Documents = make(map[string]crawl.DocumentRecord)
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

// Save atomically replaces the job's checkpoint.
func (s *Store) Save(ctx context.Context, cp *crawl.Checkpoint) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "file.save_checkpoint",
		[]attribute.KeyValue{
			attribute.String("job", cp.JobName),
			attribute.Int("documents", len(cp.Documents)),
		},
		func(ctx context.Context) error {
			data, err := json.MarshalIndent(cp, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding checkpoint: %w", err)
			}

			tmp, err := afero.TempFile(s.fs, s.dir, "."+sanitize(cp.JobName)+"-*.tmp")
			if err != nil {
				return fmt.Errorf("creating temp checkpoint: %w", err)
			}
			tmpName := tmp.Name()
			cleanup := func() { _ = s.fs.Remove(tmpName) }

			if _, err := tmp.Write(data); err != nil {
				_ = tmp.Close()
				cleanup()
				return fmt.Errorf("writing temp checkpoint: %w", err)
			}
			if err := tmp.Sync(); err != nil {
				_ = tmp.Close()
				cleanup()
				return fmt.Errorf("syncing temp checkpoint: %w", err)
			}
			if err := tmp.Close(); err != nil {
				cleanup()
				return fmt.Errorf("closing temp checkpoint: %w", err)
			}
			if err := s.fs.Rename(tmpName, s.Path(cp.JobName)); err != nil {
				cleanup()
				return fmt.Errorf("replacing checkpoint: %w", err)
			}
			return nil
		})
}

// Delete removes the job's checkpoint file.
func (s *Store) Delete(ctx context.Context, jobName string) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "file.delete_checkpoint",
		[]attribute.KeyValue{attribute.String("job", jobName)},
		func(ctx context.Context) error {
			err := s.fs.Remove(s.Path(jobName))
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("deleting checkpoint: %w", err)
			}
			return nil
		})
}

// sanitize escapes the characters that are not portable in file names as
// %XX, so distinct job names never share a file.
func sanitize(name string) string {
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		switch c := name[i]; c {
		case '%', '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			fmt.Fprintf(&b, "%%%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
