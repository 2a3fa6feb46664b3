package file

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
	"github.com/fscrawl/fscrawl/internal/infra/storage"
)

func newTestStore(t *testing.T) (*Store, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	s, err := NewStore(fsys, "/var/lib/fscrawl", storage.NoOpTracer())
	require.NoError(t, err)
	return s, fsys
}

func TestStore_LoadMissing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Load(context.Background(), "docs")
	assert.ErrorIs(t, err, crawl.ErrCheckpointNotFound)
}

func TestStore_SaveLoad(t *testing.T) {
	s, fsys := newTestStore(t)
	ctx := context.Background()

	end := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cp := crawl.NewCheckpoint("docs")
	cp.State = crawl.StateCompleted
	cp.LastScanEnd = &end
	cp.Documents["a"] = crawl.DocumentRecord{ID: "a", VirtualPath: "/a.txt", Directory: "/data", Size: 100, LastModified: end}
	require.NoError(t, s.Save(ctx, cp))

	got, err := s.Load(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, crawl.StateCompleted, got.State)
	require.NotNil(t, got.LastScanEnd)
	assert.True(t, got.LastScanEnd.Equal(end))
	assert.Nil(t, got.NextCheck)
	assert.Equal(t, int64(100), got.Documents["a"].Size)

	entries, err := afero.ReadDir(fsys, "/var/lib/fscrawl")
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp file is left behind")
	assert.Equal(t, "docs_checkpoint.json", entries[0].Name())
}

func TestStore_SaveReplaces(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	cp := crawl.NewCheckpoint("docs")
	cp.FilesProcessed = 1
	require.NoError(t, s.Save(ctx, cp))
	cp.FilesProcessed = 2
	require.NoError(t, s.Save(ctx, cp))

	got, err := s.Load(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.FilesProcessed)
}

func TestStore_CorruptFileIsAnError(t *testing.T) {
	s, fsys := newTestStore(t)
	require.NoError(t, afero.WriteFile(fsys, s.Path("docs"), []byte("{not json"), 0o644))

	_, err := s.Load(context.Background(), "docs")
	require.Error(t, err)
	assert.NotErrorIs(t, err, crawl.ErrCheckpointNotFound)
}

func TestStore_Delete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Delete(ctx, "docs"), "deleting a missing checkpoint is not an error")
	require.NoError(t, s.Save(ctx, crawl.NewCheckpoint("docs")))
	require.NoError(t, s.Delete(ctx, "docs"))
	_, err := s.Load(ctx, "docs")
	assert.ErrorIs(t, err, crawl.ErrCheckpointNotFound)
}

func TestStore_PathEscapesJobName(t *testing.T) {
	s, _ := newTestStore(t)

	tests := []struct {
		job  string
		want string
	}{
		{job: "docs", want: "docs"},
		{job: "a_b", want: "a_b"},
		{job: "a/b", want: "a%2Fb"},
		{job: "a%2Fb", want: "a%252Fb"},
		{job: `c:\x`, want: "c%3A%5Cx"},
	}
	for _, tt := range tests {
		t.Run(tt.job, func(t *testing.T) {
			assert.Equal(t, "/var/lib/fscrawl/"+tt.want+"_checkpoint.json", s.Path(tt.job))
		})
	}
}

func TestStore_SimilarJobNamesDoNotCollide(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a/b", "a_b", "a%2Fb"} {
		cp := crawl.NewCheckpoint(name)
		cp.ScanID = "scan-" + name
		require.NoError(t, s.Save(ctx, cp))
	}
	for _, name := range []string{"a/b", "a_b", "a%2Fb"} {
		cp, err := s.Load(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, "scan-"+name, cp.ScanID)
	}
}
