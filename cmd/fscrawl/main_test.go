package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fscrawl/fscrawl/internal/app/control"
	"github.com/fscrawl/fscrawl/internal/config"
	"github.com/fscrawl/fscrawl/internal/domain/crawl"
	fileStore "github.com/fscrawl/fscrawl/internal/infra/storage/checkpoint/file"
)

const testConfig = `
jobs:
  - name: docs
    fs:
      url: %[1]s/docs
    elasticsearch:
      nodes: ["http://127.0.0.1:1"]
  - name: mail
    fs:
      url: %[1]s/mail
    elasticsearch:
      nodes: ["http://127.0.0.1:1"]
checkpoint:
  backend: file
  dir: %[1]s/checkpoints
log:
  level: error
`

func writeTestConfig(t *testing.T) (path, dir string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "fscrawl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(testConfig, dir)), 0o600))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seedCheckpoint(t *testing.T, dir string, state crawl.State) {
	t.Helper()
	store, err := fileStore.NewStore(afero.NewOsFs(), filepath.Join(dir, "checkpoints"),
		noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)

	end := time.Now().Add(-time.Hour).UTC()
	cp := crawl.NewCheckpoint("docs")
	cp.State = state
	cp.FilesProcessed = 1200
	cp.LastScanStart = end.Add(-time.Minute)
	cp.LastScanEnd = &end
	require.NoError(t, store.Save(context.Background(), cp))
}

func TestStatusCommand(t *testing.T) {
	path, dir := writeTestConfig(t)
	seedCheckpoint(t, dir, crawl.StateCompleted)

	out, err := execute(t, "status", "--config", path, "--json")
	require.NoError(t, err)

	var statuses []crawl.Status
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	require.Len(t, statuses, 2)
	assert.Equal(t, "docs", statuses[0].Job)
	assert.Equal(t, crawl.StateCompleted, statuses[0].State)
	assert.Equal(t, int64(1200), statuses[0].FilesProcessed)
	assert.Equal(t, crawl.StateIdle, statuses[1].State)

	out, err = execute(t, "status", "docs", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "1,200")
	assert.Contains(t, out, "1 hour ago")
	assert.NotContains(t, out, "mail")
}

func TestCheckpointClearCommand(t *testing.T) {
	path, dir := writeTestConfig(t)
	seedCheckpoint(t, dir, crawl.StateCompleted)

	out, err := execute(t, "checkpoint", "clear", "docs", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "docs: checkpoint cleared\n", out)

	out, err = execute(t, "status", "docs", "--config", path, "--json")
	require.NoError(t, err)
	var statuses []crawl.Status
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, crawl.StateIdle, statuses[0].State)
	assert.Zero(t, statuses[0].FilesProcessed)
}

func TestCheckpointClearRefusesRunningCheckpoint(t *testing.T) {
	path, dir := writeTestConfig(t)
	seedCheckpoint(t, dir, crawl.StateRunning)

	_, err := execute(t, "checkpoint", "clear", "docs", "--config", path)
	assert.ErrorIs(t, err, crawl.ErrInvalidState)

	out, err := execute(t, "status", "docs", "--config", path, "--json")
	require.NoError(t, err)
	var statuses []crawl.Status
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	assert.Equal(t, int64(1200), statuses[0].FilesProcessed)

	out, err = execute(t, "checkpoint", "clear", "docs", "--force", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "docs: checkpoint cleared\n", out)
}

func TestUnknownJob(t *testing.T) {
	path, _ := writeTestConfig(t)
	_, err := execute(t, "status", "nope", "--config", path)
	assert.ErrorIs(t, err, control.ErrUnknownJob)
}

func TestCheckpointBackendFromEnvironment(t *testing.T) {
	path, dir := writeTestConfig(t)
	seedCheckpoint(t, dir, crawl.StateCompleted)
	t.Setenv("FSCRAWL_CHECKPOINT_BACKEND", config.BackendMemory)

	out, err := execute(t, "status", "docs", "--config", path, "--json")
	require.NoError(t, err)
	var statuses []crawl.Status
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	assert.Equal(t, crawl.StateIdle, statuses[0].State, "the memory store knows nothing about the file checkpoint")
}

func TestSelectJobs(t *testing.T) {
	cfg := &config.Config{Jobs: []config.JobConfig{{Name: "a"}, {Name: "b"}, {Name: "c"}}}
	require.NoError(t, selectJobs(cfg, []string{"c", "a"}))
	require.Len(t, cfg.Jobs, 2)
	assert.Equal(t, "c", cfg.Jobs[0].Name)
	assert.Equal(t, "a", cfg.Jobs[1].Name)

	assert.ErrorIs(t, selectJobs(cfg, []string{"b"}), control.ErrUnknownJob)
}
