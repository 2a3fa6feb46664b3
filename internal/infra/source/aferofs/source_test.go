package aferofs

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/data/a.txt", []byte("abc"), 0o644))
	require.NoError(t, fsys.MkdirAll("/data/sub", 0o755))
	mod := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, fsys.Chtimes("/data/a.txt", mod, mod))

	src := New(fsys)
	ctx := context.Background()

	root, err := src.Stat(ctx, "/data")
	require.NoError(t, err)
	assert.True(t, root.IsDir)

	entries, err := src.ListDirectory(ctx, "/data")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, int64(3), entries[0].Size)
	assert.True(t, entries[0].LastModified.Equal(mod))
	assert.Equal(t, "/data/a.txt", entries[0].Key)
	assert.True(t, entries[1].IsDir)

	rc, err := src.Open(ctx, src.Join("/data", "a.txt"))
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	_, err = src.ListDirectory(ctx, "/missing")
	assert.Error(t, err)
}
