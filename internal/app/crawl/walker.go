// Package crawl runs crawl jobs: it walks the content tree, turns what
// changed into bulk operations and drives each job's lifecycle.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
	"github.com/fscrawl/fscrawl/internal/domain/filter"
	"github.com/fscrawl/fscrawl/pkg/common/logger"
)

// Gate is consulted before each directory. A non-nil error stops the walk
// and is yielded to the consumer.
type Gate func(ctx context.Context) error

// Walker produces the directories of a job's tree depth first.
type Walker struct {
	source         crawl.InputSource
	root           string
	matcher        *filter.Matcher
	followSymlinks bool
	ignoreAbove    int64

	logger *logger.Logger
	tracer trace.Tracer
}

// NewWalker creates a walker for job over source.
func NewWalker(
	job *crawl.Job,
	source crawl.InputSource,
	matcher *filter.Matcher,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Walker {
	return &Walker{
		source:         source,
		root:           job.Root,
		matcher:        matcher,
		followSymlinks: job.FollowSymlinks,
		ignoreAbove:    job.IgnoreAbove,
		logger:         logger.With("component", "walker", "job", job.Name),
		tracer:         tracer,
	}
}

// Walk lazily reads the directory on top of frontier's pending stack,
// yields it, and once the consumer returns marks it complete, pushing the
// subdirectories that passed the filters. It stops when the stack is empty,
// the gate refuses, or the consumer stops. A directory whose consumer
// stopped stays pending.
//
// A root that cannot be listed yields an error wrapping
// crawl.ErrScanStartFailure. Any other unreadable directory is yielded with
// Unreadable set, recorded on the frontier and still completes.
func (w *Walker) Walk(ctx context.Context, frontier *crawl.Frontier, gate Gate) iter.Seq2[crawl.Directory, error] {
	return func(yield func(crawl.Directory, error) bool) {
		if rootEntry, err := w.source.Stat(ctx, w.root); err == nil && rootEntry.Key != "" {
			frontier.Visit(rootEntry.Key)
		}

		for {
			if gate != nil {
				if err := gate(ctx); err != nil {
					yield(crawl.Directory{}, err)
					return
				}
			}
			dir, ok := frontier.Next()
			if !ok {
				return
			}

			d, err := w.read(ctx, dir, frontier)
			if err != nil {
				yield(crawl.Directory{}, err)
				return
			}
			if !yield(d, nil) {
				return
			}

			if d.Unreadable {
				frontier.MarkUnreadable(dir)
			}
			children := make([]string, 0, len(d.Subdirectories))
			for _, sub := range d.Subdirectories {
				children = append(children, sub.RealPath)
			}
			frontier.Complete(dir, children)
		}
	}
}

func (w *Walker) read(ctx context.Context, dir string, frontier *crawl.Frontier) (crawl.Directory, error) {
	ctx, span := w.tracer.Start(ctx, "walker.read_directory",
		trace.WithAttributes(attribute.String("directory", dir)))
	defer span.End()

	d := crawl.Directory{
		RealPath:    dir,
		VirtualPath: w.virtualPath(dir),
		Root:        dir == w.root,
	}

	entries, err := w.source.ListDirectory(ctx, dir)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return d, ctx.Err()
	case d.Root:
		span.RecordError(err)
		return d, fmt.Errorf("%w: listing %s: %v", crawl.ErrScanStartFailure, dir, err)
	case errors.Is(err, fs.ErrNotExist):
		// Removed since it was discovered: an empty listing lets delta
		// detection delete what it held.
		w.logger.Info(ctx, "directory vanished", "directory", dir)
		return d, nil
	default:
		span.RecordError(err)
		w.logger.Warn(ctx, "unreadable directory", "directory", dir, "error", err)
		d.Unreadable = true
		return d, nil
	}

	for _, e := range entries {
		if e.IsSymlink && !w.followSymlinks {
			continue
		}
		if e.Name == "" {
			d.Failures++
			continue
		}

		item := crawl.ScanItem{
			Name:         e.Name,
			RealPath:     w.source.Join(dir, e.Name),
			VirtualPath:  crawl.VirtualPathOf(d.VirtualPath, e.Name),
			IsDir:        e.IsDir,
			Size:         e.Size,
			LastModified: e.LastModified,
		}

		if e.IsDir {
			if !w.matcher.IncludeDirectory(item.VirtualPath) {
				w.logger.Debug(ctx, "directory excluded", "directory", item.VirtualPath)
				continue
			}
			if w.followSymlinks && e.Key != "" && !frontier.Visit(e.Key) {
				w.logger.Warn(ctx, "directory already visited, skipping cycle", "directory", item.RealPath)
				continue
			}
			d.Subdirectories = append(d.Subdirectories, item)
			continue
		}

		if !w.matcher.IncludeFile(item.VirtualPath) {
			continue
		}
		if w.ignoreAbove > 0 && e.Size > w.ignoreAbove {
			w.logger.Debug(ctx, "file above size limit", "file", item.VirtualPath, "size", e.Size)
			continue
		}
		d.Items = append(d.Items, item)
	}

	span.SetAttributes(
		attribute.Int("files", len(d.Items)),
		attribute.Int("subdirectories", len(d.Subdirectories)),
	)
	return d, nil
}

// virtualPath maps a real directory under the root to its root-relative,
// slash-separated form.
func (w *Walker) virtualPath(dir string) string {
	rel, err := filepath.Rel(w.root, dir)
	if err != nil || rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}
