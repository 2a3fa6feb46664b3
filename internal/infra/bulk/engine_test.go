package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fscrawl/fscrawl/pkg/common/logger"
)

type recordingTransport struct {
	mu      sync.Mutex
	batches [][]Operation
	err     error
	block   chan struct{}
	started chan struct{}
}

func (r *recordingTransport) Bulk(ctx context.Context, req Request) (Response, error) {
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, req.Operations)
	if r.err != nil {
		return Response{}, r.err
	}
	items := make([]ResponseItem, len(req.Operations))
	for i, op := range req.Operations {
		items[i] = ResponseItem{Success: op.ID != "bad", Status: 200, Version: 1}
		if op.ID == "bad" {
			items[i].Status = 400
			items[i].Failure = "mapper_parsing_exception"
		}
	}
	return Response{Items: items}, nil
}

func (r *recordingTransport) calls() [][]Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]Operation(nil), r.batches...)
}

type handled struct {
	mu      sync.Mutex
	ops     []Operation
	results []ResponseItem
}

func (h *handled) handle(_ context.Context, ops []Operation, resp Response) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ops = append(h.ops, ops...)
	h.results = append(h.results, resp.Items...)
}

func (h *handled) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ops)
}

func newTestEngine(cfg Config, tr Transport[Request, Response], h *handled) *OperationEngine {
	return NewEngine("test", cfg, OperationCodec{}, tr, h.handle, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
}

func op(id string) Operation {
	return IndexOp("docs", id, "", json.RawMessage(`{"content":"x"}`))
}

func ids(batch []Operation) []string {
	out := make([]string, len(batch))
	for i, o := range batch {
		out[i] = o.ID
	}
	return out
}

func TestEngine_FlushOnCount(t *testing.T) {
	tr := &recordingTransport{}
	h := &handled{}
	e := newTestEngine(Config{BulkSize: 2}, tr, h)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, e.Add(ctx, op(fmt.Sprint(i))))
	}
	require.NoError(t, e.Flush(ctx))

	calls := tr.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"0", "1"}, ids(calls[0]))
	assert.Equal(t, []string{"2", "3"}, ids(calls[1]))
	assert.Equal(t, []string{"4"}, ids(calls[2]))
	assert.Equal(t, 5, h.count())
	require.NoError(t, e.Close(ctx))
}

func TestEngine_FlushOnByteSize(t *testing.T) {
	tr := &recordingTransport{}
	h := &handled{}
	size := OperationCodec{}.Size(op("0"))
	e := newTestEngine(Config{ByteSize: int64(size * 3)}, tr, h)
	ctx := context.Background()

	for i := range 3 {
		require.NoError(t, e.Add(ctx, op(fmt.Sprint(i))))
	}
	assert.Eventually(t, func() bool { return len(tr.calls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, tr.calls()[0], 3)
	require.NoError(t, e.Close(ctx))
}

func TestEngine_FlushOnInterval(t *testing.T) {
	tr := &recordingTransport{}
	h := &handled{}
	e := newTestEngine(Config{FlushInterval: 10 * time.Millisecond}, tr, h)
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, op("a")))
	assert.Eventually(t, func() bool { return h.count() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, e.Close(ctx))
}

func TestEngine_NoThresholdKeepsBuffering(t *testing.T) {
	tr := &recordingTransport{}
	h := &handled{}
	e := newTestEngine(Config{}, tr, h)
	ctx := context.Background()

	for i := range 10 {
		require.NoError(t, e.Add(ctx, op(fmt.Sprint(i))))
	}
	assert.Empty(t, tr.calls())

	require.NoError(t, e.Close(ctx))
	require.Len(t, tr.calls(), 1)
	assert.Len(t, tr.calls()[0], 10)
}

func TestEngine_PartialFailurePreservesOrder(t *testing.T) {
	tr := &recordingTransport{}
	h := &handled{}
	e := newTestEngine(Config{BulkSize: 3}, tr, h)
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, op("a")))
	require.NoError(t, e.Add(ctx, op("bad")))
	require.NoError(t, e.Add(ctx, op("c")))
	require.NoError(t, e.Flush(ctx))

	require.Len(t, h.results, 3)
	assert.True(t, h.results[0].Success)
	assert.False(t, h.results[1].Success)
	assert.Equal(t, "mapper_parsing_exception", h.results[1].Failure)
	assert.True(t, h.results[2].Success)
	assert.Equal(t, []string{"a", "bad", "c"}, ids(h.ops))
	require.NoError(t, e.Close(ctx))
}

func TestEngine_TransportErrorBecomesItemFailures(t *testing.T) {
	tr := &recordingTransport{err: errors.New("connection refused")}
	h := &handled{}
	e := newTestEngine(Config{BulkSize: 2}, tr, h)
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, op("a")))
	require.NoError(t, e.Add(ctx, op("b")))
	require.NoError(t, e.Flush(ctx))

	assert.Len(t, tr.calls(), 1, "the engine never retries")
	require.Len(t, h.results, 2)
	for _, r := range h.results {
		assert.False(t, r.Success)
		assert.Contains(t, r.Failure, "connection refused")
	}
	require.NoError(t, e.Close(ctx))
}

func TestEngine_Backpressure(t *testing.T) {
	tr := &recordingTransport{block: make(chan struct{}), started: make(chan struct{}, 4)}
	h := &handled{}
	e := newTestEngine(Config{BulkSize: 1, QueueSize: 1}, tr, h)
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, op("in-flight")))
	<-tr.started
	require.NoError(t, e.Add(ctx, op("queued")))

	added := make(chan error, 1)
	go func() { added <- e.Add(ctx, op("blocked")) }()

	select {
	case <-added:
		t.Fatal("Add returned while the worker was busy and the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	close(tr.block)
	select {
	case err := <-added:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Add did not unblock")
	}

	require.NoError(t, e.Flush(ctx))
	assert.Equal(t, 3, h.count())
	require.NoError(t, e.Close(ctx))
}

func TestEngine_AddHonoursContextWhileBlocked(t *testing.T) {
	tr := &recordingTransport{block: make(chan struct{}), started: make(chan struct{}, 4)}
	h := &handled{}
	e := newTestEngine(Config{BulkSize: 1, QueueSize: 1}, tr, h)

	require.NoError(t, e.Add(context.Background(), op("a")))
	<-tr.started
	require.NoError(t, e.Add(context.Background(), op("b")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.Add(ctx, op("c"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(tr.block)
	require.NoError(t, e.Flush(context.Background()))
	assert.Equal(t, []string{"a", "b", "c"}, ids(h.ops), "the op stays buffered")
	require.NoError(t, e.Close(context.Background()))
}

func TestEngine_FlushWaitsForInFlight(t *testing.T) {
	tr := &recordingTransport{block: make(chan struct{}), started: make(chan struct{}, 1)}
	h := &handled{}
	e := newTestEngine(Config{BulkSize: 1}, tr, h)
	ctx := context.Background()

	require.NoError(t, e.Add(ctx, op("a")))
	<-tr.started

	flushed := make(chan error, 1)
	go func() { flushed <- e.Flush(ctx) }()

	select {
	case <-flushed:
		t.Fatal("Flush returned before the in-flight batch completed")
	case <-time.After(30 * time.Millisecond):
	}
	close(tr.block)
	require.NoError(t, <-flushed)
	assert.Equal(t, 1, h.count())
	require.NoError(t, e.Close(ctx))
}

func TestEngine_CloseDeadlineAbortsInFlight(t *testing.T) {
	tr := &recordingTransport{block: make(chan struct{}), started: make(chan struct{}, 1)}
	h := &handled{}
	e := newTestEngine(Config{BulkSize: 1}, tr, h)

	require.NoError(t, e.Add(context.Background(), op("a")))
	<-tr.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Len(t, h.results, 1)
	assert.False(t, h.results[0].Success)

	assert.ErrorIs(t, e.Add(context.Background(), op("b")), ErrClosed)
	assert.ErrorIs(t, e.Flush(context.Background()), ErrClosed)
	assert.NoError(t, e.Close(context.Background()))
}

func TestResponse_HasFailures(t *testing.T) {
	tests := []struct {
		name  string
		items []ResponseItem
		want  bool
	}{
		{name: "empty", want: false},
		{name: "all success", items: []ResponseItem{{Success: true}, {Success: true}}, want: false},
		{name: "one failure", items: []ResponseItem{{Success: true}, {Failure: "boom"}}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Response{Items: tt.items}.HasFailures())
		})
	}
}
