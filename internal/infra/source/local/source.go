// Package local reads content trees from the local filesystem.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
)

var _ crawl.InputSource = Source{}

// Source is a crawl.InputSource over the operating system's filesystem.
// Symlinks are reported with IsSymlink set and described by their target.
type Source struct{}

// New returns a local source.
func New() Source { return Source{} }

// Stat describes path, following a final symlink.
func (Source) Stat(ctx context.Context, path string) (crawl.Entry, error) {
	if err := ctx.Err(); err != nil {
		return crawl.Entry{}, err
	}
	linfo, err := os.Lstat(path)
	if err != nil {
		return crawl.Entry{}, err
	}
	return describe(path, linfo)
}

// ListDirectory returns the entries of path. Entries that disappear while
// listing are left out.
func (Source) ListDirectory(ctx context.Context, path string) ([]crawl.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	entries := make([]crawl.Entry, 0, len(dirents))
	for _, de := range dirents {
		info, err := de.Info()
		if err != nil {
			continue
		}
		e, err := describe(filepath.Join(path, de.Name()), info)
		if err != nil {
			// Dangling symlink.
			e = crawl.Entry{Name: de.Name(), IsSymlink: true}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Open opens a regular file.
func (Source) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Join implements crawl.InputSource.
func (Source) Join(dir, name string) string { return filepath.Join(dir, name) }

func describe(path string, linfo fs.FileInfo) (crawl.Entry, error) {
	info := linfo
	symlink := linfo.Mode()&fs.ModeSymlink != 0
	if symlink {
		target, err := os.Stat(path)
		if err != nil {
			return crawl.Entry{}, fmt.Errorf("resolving symlink %s: %w", path, err)
		}
		info = target
	}
	return crawl.Entry{
		Name:         linfo.Name(),
		IsDir:        info.IsDir(),
		IsSymlink:    symlink,
		Size:         info.Size(),
		LastModified: info.ModTime().UTC(),
		Key:          fileKey(path, info),
	}, nil
}
