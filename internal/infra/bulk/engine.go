// Package bulk batches index operations and hands them to a transport.
//
// The Engine is generic over the operation, request and response types so a
// backend other than Elasticsearch can be plugged in without touching the
// crawl pipeline. It never retries: every batch outcome, including whole-batch
// transport errors, is reported to the ResultHandler and the caller decides
// what a failed item means.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fscrawl/fscrawl/pkg/common/logger"
)

// ErrClosed is returned by Add and Flush after Close.
var ErrClosed = errors.New("bulk engine closed")

// Transport sends one request and returns the backend's response.
type Transport[Req, Resp any] interface {
	Bulk(ctx context.Context, req Req) (Resp, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Bulk implements Transport.
func (f TransportFunc[Req, Resp]) Bulk(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// Codec knows how to measure operations, assemble them into a request and
// interpret the response.
type Codec[Op, Req, Resp any] interface {
	// Size estimates the encoded size of op in bytes.
	Size(op Op) int
	// Request builds the request for ops.
	Request(ops []Op) Req
	// Failure builds a response marking every op as failed with err.
	Failure(ops []Op, err error) Resp
	// Failed counts the failed items of resp.
	Failed(resp Resp) int
}

// ResultHandler receives each batch together with its response. Response
// item i belongs to ops[i].
type ResultHandler[Op, Resp any] func(ctx context.Context, ops []Op, resp Resp)

// Config holds the flush thresholds. A zero threshold disables it.
type Config struct {
	BulkSize      int
	ByteSize      int64
	FlushInterval time.Duration
	// QueueSize bounds the batches waiting for the worker. Defaults to 1.
	QueueSize int
}

// Metrics records engine activity.
type Metrics interface {
	ObserveFlush(ctx context.Context, items, failed int, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveFlush(context.Context, int, int, time.Duration) {}

// Option configures an Engine.
type Option[Op, Req, Resp any] func(*Engine[Op, Req, Resp])

// WithMetrics sets the metrics sink of the engine.
func WithMetrics[Op, Req, Resp any](m Metrics) Option[Op, Req, Resp] {
	return func(e *Engine[Op, Req, Resp]) { e.metrics = m }
}

// batch is one unit of work for the flush worker. A batch with a done channel
// and no ops is a barrier used by Flush.
type batch[Op any] struct {
	ops  []Op
	done chan struct{}
}

// Engine accumulates operations and flushes them on count, byte size or
// interval, whichever comes first. Flushes run on a single worker goroutine
// fed by a bounded queue; Add blocks while the queue is full.
type Engine[Op, Req, Resp any] struct {
	name      string
	cfg       Config
	codec     Codec[Op, Req, Resp]
	transport Transport[Req, Resp]
	handler   ResultHandler[Op, Resp]

	// mu guards the buffer and is held while a batch is handed to the
	// queue so batches keep submission order.
	mu       sync.Mutex
	buf      []Op
	bufBytes int64
	closed   bool

	queue      chan batch[Op]
	workerCtx  context.Context
	stopWorker context.CancelFunc
	workerDone chan struct{}
	tickerDone chan struct{}

	metrics Metrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewEngine starts an engine and its flush worker.
func NewEngine[Op, Req, Resp any](
	name string,
	cfg Config,
	codec Codec[Op, Req, Resp],
	transport Transport[Req, Resp],
	handler ResultHandler[Op, Resp],
	logger *logger.Logger,
	tracer trace.Tracer,
	opts ...Option[Op, Req, Resp],
) *Engine[Op, Req, Resp] {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if handler == nil {
		handler = func(context.Context, []Op, Resp) {}
	}
	workerCtx, cancel := context.WithCancel(context.Background())

	e := &Engine[Op, Req, Resp]{
		name:       name,
		cfg:        cfg,
		codec:      codec,
		transport:  transport,
		handler:    handler,
		queue:      make(chan batch[Op], cfg.QueueSize),
		workerCtx:  workerCtx,
		stopWorker: cancel,
		workerDone: make(chan struct{}),
		tickerDone: make(chan struct{}),
		metrics:    nopMetrics{},
		logger:     logger.With("component", "bulk_engine", "engine", name),
		tracer:     tracer,
	}
	for _, opt := range opts {
		opt(e)
	}

	go e.runWorker()
	if cfg.FlushInterval > 0 {
		go e.runTicker()
	} else {
		close(e.tickerDone)
	}
	return e
}

// Add buffers op and flushes when a threshold is reached. It blocks while
// the flush queue is full and returns ctx.Err() if ctx ends first, in which
// case op stays buffered.
func (e *Engine[Op, Req, Resp]) Add(ctx context.Context, op Op) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	e.buf = append(e.buf, op)
	e.bufBytes += int64(e.codec.Size(op))

	if !e.thresholdReached() {
		return nil
	}
	return e.handOffLocked(ctx, nil)
}

func (e *Engine[Op, Req, Resp]) thresholdReached() bool {
	if e.cfg.BulkSize > 0 && len(e.buf) >= e.cfg.BulkSize {
		return true
	}
	return e.cfg.ByteSize > 0 && e.bufBytes >= e.cfg.ByteSize
}

// handOffLocked queues the buffer, followed by a barrier when done is set.
// The buffer is only reset once the worker accepted it.
func (e *Engine[Op, Req, Resp]) handOffLocked(ctx context.Context, done chan struct{}) error {
	if len(e.buf) > 0 {
		select {
		case e.queue <- batch[Op]{ops: e.buf}:
			e.buf = nil
			e.bufBytes = 0
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if done == nil {
		return nil
	}
	select {
	case e.queue <- batch[Op]{done: done}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush hands over the buffered operations and waits until every batch
// queued so far has been sent and its results handled.
func (e *Engine[Op, Req, Resp]) Flush(ctx context.Context) error {
	done := make(chan struct{})

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	err := e.handOffLocked(ctx, done)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("flushing %s: %w", e.name, err)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s flush: %w", e.name, ctx.Err())
	}
}

// Close flushes pending operations and stops the worker. When ctx ends
// before the in-flight batch completes, the batch's transport call is
// cancelled and reported as failed.
func (e *Engine[Op, Req, Resp]) Close(ctx context.Context) error {
	done := make(chan struct{})

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	err := e.handOffLocked(ctx, done)
	close(e.queue)
	e.mu.Unlock()

	if err == nil {
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}
	e.stopWorker()
	<-e.workerDone
	<-e.tickerDone

	if err != nil {
		return fmt.Errorf("closing %s: %w", e.name, err)
	}
	e.logger.Debug(ctx, "bulk engine closed")
	return nil
}

func (e *Engine[Op, Req, Resp]) runWorker() {
	defer close(e.workerDone)
	for b := range e.queue {
		if len(b.ops) > 0 {
			e.send(e.workerCtx, b.ops)
		}
		if b.done != nil {
			close(b.done)
		}
	}
}

func (e *Engine[Op, Req, Resp]) runTicker() {
	defer close(e.tickerDone)
	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.workerCtx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			if !e.closed {
				if err := e.handOffLocked(e.workerCtx, nil); err != nil {
					e.logger.Warn(e.workerCtx, "interval flush aborted", "error", err)
				}
			}
			e.mu.Unlock()
		}
	}
}

func (e *Engine[Op, Req, Resp]) send(ctx context.Context, ops []Op) {
	ctx, span := e.tracer.Start(ctx, "bulk_engine.send",
		trace.WithAttributes(
			attribute.String("engine", e.name),
			attribute.Int("items", len(ops)),
		))
	defer span.End()

	start := time.Now()
	resp, err := e.transport.Bulk(ctx, e.codec.Request(ops))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bulk request failed")
		e.logger.Error(ctx, "bulk request failed", "items", len(ops), "error", err)
		resp = e.codec.Failure(ops, err)
	}

	failed := e.codec.Failed(resp)
	span.SetAttributes(attribute.Int("failed", failed))
	e.metrics.ObserveFlush(ctx, len(ops), failed, time.Since(start))
	if failed > 0 {
		e.logger.Warn(ctx, "bulk request has failures", "items", len(ops), "failed", failed)
	}

	e.handler(ctx, ops, resp)
}
