package crawl

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
	"github.com/fscrawl/fscrawl/internal/infra/bulk"
	"github.com/fscrawl/fscrawl/internal/infra/extract"
	"github.com/fscrawl/fscrawl/internal/infra/source/aferofs"
	"github.com/fscrawl/fscrawl/internal/infra/storage/checkpoint/memory"
	"github.com/fscrawl/fscrawl/pkg/common/logger"
)

var testMtime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *logger.Logger { return logger.Noop() }

func testTracer() trace.Tracer { return noop.NewTracerProvider().Tracer("test") }

// fakeTransport records every operation and answers with per-item success
// unless reject names the operation's ID.
type fakeTransport struct {
	mu     sync.Mutex
	calls  int
	ops    []bulk.Operation
	reject map[string]string

	// started is signalled on the first call, which then waits for
	// release when release is set.
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{reject: make(map[string]string)}
}

func (t *fakeTransport) Bulk(ctx context.Context, req bulk.Request) (bulk.Response, error) {
	if t.release != nil {
		t.once.Do(func() { close(t.started) })
		select {
		case <-t.release:
		case <-ctx.Done():
			return bulk.Response{}, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls++
	resp := bulk.Response{Items: make([]bulk.ResponseItem, len(req.Operations))}
	for i, op := range req.Operations {
		t.ops = append(t.ops, op)
		if failure, ok := t.reject[op.ID]; ok {
			resp.Items[i] = bulk.ResponseItem{Status: 400, Failure: failure}
			continue
		}
		resp.Items[i] = bulk.ResponseItem{Success: true, Status: 200}
	}
	return resp, nil
}

// blockFirst makes the first bulk call wait until the returned function is
// called.
func (t *fakeTransport) blockFirst() (started <-chan struct{}, release func()) {
	t.started = make(chan struct{})
	t.release = make(chan struct{})
	return t.started, func() { close(t.release) }
}

func (t *fakeTransport) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// take returns and forgets the recorded operations.
func (t *fakeTransport) take() []bulk.Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	ops := t.ops
	t.ops = nil
	return ops
}

func opsOfType(ops []bulk.Operation, typ bulk.OpType) []bulk.Operation {
	var out []bulk.Operation
	for _, op := range ops {
		if op.Type == typ {
			out = append(out, op)
		}
	}
	return out
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, evt crawl.Event) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

// countingSource records which directories were listed and fails listings
// of denied directories.
type countingSource struct {
	crawl.InputSource

	mu     sync.Mutex
	listed []string
	denied map[string]error
}

func (s *countingSource) ListDirectory(ctx context.Context, path string) ([]crawl.Entry, error) {
	s.mu.Lock()
	s.listed = append(s.listed, path)
	err := s.denied[path]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.InputSource.ListDirectory(ctx, path)
}

func (s *countingSource) deny(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denied == nil {
		s.denied = make(map[string]error)
	}
	if err == nil {
		delete(s.denied, path)
		return
	}
	s.denied[path] = err
}

func (s *countingSource) listedDirs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.listed...)
}

type testHarness struct {
	fs        afero.Fs
	source    *countingSource
	store     *memory.Store
	transport *fakeTransport
	publisher *mockPublisher
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/data", 0o755))

	publisher := new(mockPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil)

	return &testHarness{
		fs:        fsys,
		source:    &countingSource{InputSource: aferofs.New(fsys)},
		store:     memory.NewStore(),
		transport: newFakeTransport(),
		publisher: publisher,
	}
}

func testJob(t *testing.T, j crawl.Job) *crawl.Job {
	t.Helper()
	if j.Name == "" {
		j.Name = "docs"
	}
	if j.Root == "" {
		j.Root = "/data"
	}
	job, err := crawl.NewJob(j)
	require.NoError(t, err)
	return job
}

func (h *testHarness) machine(t *testing.T, job *crawl.Job) *Machine {
	t.Helper()

	m, err := NewMachine(context.Background(), job, MachineDeps{
		Store:              h.store,
		Source:             h.source,
		Extractor:          extract.New(testTracer()),
		Transport:          h.transport,
		Bulk:               bulk.Config{BulkSize: 100},
		Publisher:          h.publisher,
		CheckpointInterval: time.Hour,
		Logger:             testLogger(),
		Tracer:             testTracer(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})
	return m
}

func (h *testHarness) write(t *testing.T, name, content string) {
	t.Helper()
	h.writeAt(t, name, content, testMtime)
}

func (h *testHarness) writeAt(t *testing.T, name, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, h.fs.MkdirAll(filepath.Dir(name), 0o755))
	require.NoError(t, afero.WriteFile(h.fs, name, []byte(content), 0o644))
	require.NoError(t, h.fs.Chtimes(name, mtime, mtime))
}

func (h *testHarness) checkpoint(t *testing.T, job string) *crawl.Checkpoint {
	t.Helper()
	cp, err := h.store.Load(context.Background(), job)
	require.NoError(t, err)
	return cp
}

// runScan starts a scan and waits for it to complete.
func runScan(t *testing.T, m *Machine) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Wait(ctx))
	require.Equal(t, crawl.StateCompleted, m.Status().State)
}
