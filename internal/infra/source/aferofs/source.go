// Package aferofs adapts any afero filesystem to a crawl input source.
package aferofs

import (
	"context"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
)

var _ crawl.InputSource = (*Source)(nil)

// Source reads from an afero.Fs. Object keys are the cleaned paths, so
// symlink cycles are only detected when the filesystem resolves links.
type Source struct {
	fs afero.Fs
}

// New wraps fsys.
func New(fsys afero.Fs) *Source { return &Source{fs: fsys} }

// Stat implements crawl.InputSource.
func (s *Source) Stat(ctx context.Context, path string) (crawl.Entry, error) {
	if err := ctx.Err(); err != nil {
		return crawl.Entry{}, err
	}
	info, err := s.fs.Stat(path)
	if err != nil {
		return crawl.Entry{}, err
	}
	return entry(path, info, s.isSymlink(path)), nil
}

// ListDirectory implements crawl.InputSource.
func (s *Source) ListDirectory(ctx context.Context, path string) ([]crawl.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(s.fs, path)
	if err != nil {
		return nil, err
	}
	entries := make([]crawl.Entry, 0, len(infos))
	for _, info := range infos {
		child := filepath.Join(path, info.Name())
		entries = append(entries, entry(child, info, info.Mode()&fs.ModeSymlink != 0))
	}
	return entries, nil
}

// Open implements crawl.InputSource.
func (s *Source) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.fs.Open(path)
}

// Join implements crawl.InputSource.
func (s *Source) Join(dir, name string) string { return filepath.Join(dir, name) }

func (s *Source) isSymlink(path string) bool {
	lst, ok := s.fs.(afero.Lstater)
	if !ok {
		return false
	}
	info, _, err := lst.LstatIfPossible(path)
	return err == nil && info.Mode()&fs.ModeSymlink != 0
}

func entry(path string, info fs.FileInfo, symlink bool) crawl.Entry {
	return crawl.Entry{
		Name:         info.Name(),
		IsDir:        info.IsDir(),
		IsSymlink:    symlink,
		Size:         info.Size(),
		LastModified: info.ModTime().UTC(),
		Key:          filepath.Clean(path),
	}
}
