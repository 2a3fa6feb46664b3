package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
	"github.com/fscrawl/fscrawl/internal/domain/filter"
	"github.com/fscrawl/fscrawl/internal/infra/bulk"
	"github.com/fscrawl/fscrawl/pkg/common/logger"
)

// DefaultCheckpointInterval bounds how often a running scan persists its
// progress.
const DefaultCheckpointInterval = 30 * time.Second

var (
	// errPaused stops a scan at the next boundary once a pause is requested.
	errPaused = errors.New("scan paused")
	// errStopped is the cancellation cause of a scan interrupted by Stop.
	errStopped = errors.New("crawl stopped")
)

// timeProvider is an interface for getting the current time.
type timeProvider interface {
	Now() time.Time
}

// realTimeProvider is a real implementation of the timeProvider interface.
type realTimeProvider struct{}

// Now returns the current time.
func (realTimeProvider) Now() time.Time { return time.Now().UTC() }

// run is one execution of the scan goroutine.
type run struct {
	cancel   context.CancelCauseFunc
	done     chan struct{}
	pause    atomic.Bool
	frontier *crawl.Frontier

	// lastPersist is only touched by the scan goroutine.
	lastPersist time.Time
}

// MachineDeps groups the collaborators of a Machine.
type MachineDeps struct {
	Store     crawl.CheckpointStore
	Source    crawl.InputSource
	Extractor crawl.ContentExtractor
	Lookup    crawl.PriorLookup
	Transport Transport
	Bulk      bulk.Config
	Publisher crawl.EventPublisher

	Metrics     Metrics
	BulkMetrics bulk.Metrics

	// CheckpointInterval defaults to DefaultCheckpointInterval.
	CheckpointInterval time.Duration

	Logger *logger.Logger
	Tracer trace.Tracer
}

// Machine drives the lifecycle of one crawl job. Control operations are
// serialized; the scan itself runs on a single goroutine per run.
type Machine struct {
	job       *crawl.Job
	store     crawl.CheckpointStore
	source    crawl.InputSource
	walker    *Walker
	pipeline  *Pipeline
	publisher crawl.EventPublisher
	metrics   Metrics

	checkpointInterval time.Duration
	timeProvider       timeProvider

	ctrl sync.Mutex

	mu        sync.Mutex
	state     crawl.State
	cp        *crawl.Checkpoint
	run       *run
	fatal     error
	stopped   bool
	completed int64

	frontier atomic.Pointer[crawl.Frontier]
	status   atomic.Pointer[crawl.Status]

	logger *logger.Logger
	tracer trace.Tracer
}

// NewMachine loads the job's checkpoint and prepares its scan. A job whose
// checkpoint was paused starts Paused; any other persisted state starts Idle.
func NewMachine(ctx context.Context, job *crawl.Job, deps MachineDeps) (*Machine, error) {
	matcher, err := filter.NewMatcher(job.Includes, job.Excludes)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.Name, err)
	}

	cp, err := deps.Store.Load(ctx, job.Name)
	switch {
	case errors.Is(err, crawl.ErrCheckpointNotFound):
		cp = crawl.NewCheckpoint(job.Name)
	case err != nil:
		return nil, fmt.Errorf("loading checkpoint of %s: %w", job.Name, err)
	}

	state := crawl.StateIdle
	if cp.State == crawl.StatePaused {
		state = crawl.StatePaused
	}
	cp.State = state

	publisher := deps.Publisher
	if publisher == nil {
		publisher = crawl.NopPublisher{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	interval := deps.CheckpointInterval
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}

	m := &Machine{
		job:                job,
		store:              deps.Store,
		source:             deps.Source,
		walker:             NewWalker(job, deps.Source, matcher, deps.Logger, deps.Tracer),
		publisher:          publisher,
		metrics:            metrics,
		checkpointInterval: interval,
		timeProvider:       realTimeProvider{},
		state:              state,
		cp:                 cp,
		logger:             deps.Logger.With("component", "crawl_machine", "job", job.Name),
		tracer:             deps.Tracer,
	}

	m.pipeline, err = NewPipeline(job, matcher, PipelineDeps{
		Source:      deps.Source,
		Extractor:   deps.Extractor,
		Lookup:      deps.Lookup,
		Transport:   deps.Transport,
		Bulk:        deps.Bulk,
		BulkMetrics: deps.BulkMetrics,
		OnProgress:  m.progress,
		Metrics:     metrics,
		Logger:      deps.Logger,
		Tracer:      deps.Tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.Name, err)
	}
	m.pipeline.now = func() time.Time { return m.timeProvider.Now() }
	m.pipeline.Restore(cp)

	status := crawl.StatusFromCheckpoint(cp)
	m.status.Store(&status)
	return m, nil
}

// Job returns the job driven by m.
func (m *Machine) Job() *crawl.Job { return m.job }

// Status returns the latest status snapshot. It never blocks.
func (m *Machine) Status() crawl.Status { return *m.status.Load() }

// Completed returns the number of scans completed by this process.
func (m *Machine) Completed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed
}

// Due reports whether the scheduler should start a scan at now.
func (m *Machine) Due(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return false
	}
	switch m.state {
	case crawl.StateIdle, crawl.StateCompleted:
		return m.cp.InProgress() || m.cp.Due(now)
	default:
		return false
	}
}

// Start begins a scan. A checkpoint holding an interrupted scan is resumed
// from its pending directories; otherwise a new scan starts at the root.
func (m *Machine) Start(ctx context.Context) error {
	m.ctrl.Lock()
	defer m.ctrl.Unlock()

	ctx, span := m.tracer.Start(ctx, "crawl_machine.start",
		trace.WithAttributes(attribute.String("job", m.job.Name)))
	defer span.End()

	m.mu.Lock()
	state, cp, stopped := m.state, m.cp, m.stopped
	m.mu.Unlock()

	if stopped {
		return &crawl.TransitionError{From: state, To: crawl.StateRunning, Err: crawl.ErrInvalidState}
	}
	if state == crawl.StatePaused {
		return &crawl.TransitionError{From: state, To: crawl.StateRunning, Err: crawl.ErrInvalidState}
	}
	if err := state.ValidateTransition(crawl.StateRunning); err != nil {
		span.RecordError(err)
		return err
	}

	if _, err := m.source.Stat(ctx, m.job.Root); err != nil {
		err = fmt.Errorf("%w: %s: %v", crawl.ErrScanStartFailure, m.job.Root, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "root unreadable")
		m.cancel(ctx, cp, nil, err)
		return err
	}

	now := m.timeProvider.Now()
	next := cp.Clone()
	var frontier *crawl.Frontier
	if cp.InProgress() {
		frontier = crawl.RestoreFrontier(cp.PendingDirectories, cp.CompletedDirectories, cp.UnreadableDirectories)
		m.pipeline.Restore(cp)
		m.logger.Info(ctx, "resuming interrupted scan",
			"scan_id", cp.ScanID,
			"pending", len(cp.PendingDirectories),
			"completed", len(cp.CompletedDirectories))
	} else {
		frontier = crawl.NewFrontier(m.job.Root)
		m.pipeline.Begin(cp)
		next.ScanID = uuid.NewString()
		next.LastScanStart = now
		if cp.ForcedRescan() {
			m.logger.Info(ctx, "forced rescan, ignoring previous documents")
		}
		m.logger.Info(ctx, "starting scan", "scan_id", next.ScanID, "root", m.job.Root)
	}
	span.SetAttributes(attribute.String("scan_id", next.ScanID))

	next = m.capture(next, frontier, crawl.StateRunning)
	if err := m.save(ctx, next); err != nil {
		span.RecordError(err)
		return err
	}

	m.launch(frontier)
	m.publish(ctx, crawl.EventScanStarted)
	return nil
}

// Pause parks the running scan at the next directory or batch boundary,
// flushes the engine and persists the checkpoint before returning. noop is
// true when the scan was already paused or finished before it could park.
func (m *Machine) Pause(ctx context.Context) (noop bool, err error) {
	m.ctrl.Lock()
	defer m.ctrl.Unlock()

	ctx, span := m.tracer.Start(ctx, "crawl_machine.pause",
		trace.WithAttributes(attribute.String("job", m.job.Name)))
	defer span.End()

	m.mu.Lock()
	state, r := m.state, m.run
	m.mu.Unlock()

	switch state {
	case crawl.StatePaused:
		return true, nil
	case crawl.StateRunning:
	default:
		return false, &crawl.TransitionError{From: state, To: crawl.StatePaused, Err: crawl.ErrInvalidState}
	}

	r.pause.Store(true)
	select {
	case <-r.done:
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return false, fmt.Errorf("waiting for %s to pause: %w", m.job.Name, ctx.Err())
	}

	m.mu.Lock()
	state = m.state
	m.mu.Unlock()
	return state != crawl.StatePaused, nil
}

// Resume continues a paused scan from its persisted frontier.
func (m *Machine) Resume(ctx context.Context) error {
	m.ctrl.Lock()
	defer m.ctrl.Unlock()

	ctx, span := m.tracer.Start(ctx, "crawl_machine.resume",
		trace.WithAttributes(attribute.String("job", m.job.Name)))
	defer span.End()

	m.mu.Lock()
	state, cp, stopped := m.state, m.cp, m.stopped
	m.mu.Unlock()

	if state != crawl.StatePaused || stopped {
		return &crawl.TransitionError{From: state, To: crawl.StateRunning, Err: crawl.ErrInvalidState}
	}

	frontier := crawl.RestoreFrontier(cp.PendingDirectories, cp.CompletedDirectories, cp.UnreadableDirectories)
	m.pipeline.Restore(cp)

	next := m.capture(cp, frontier, crawl.StateRunning)
	if err := m.save(ctx, next); err != nil {
		span.RecordError(err)
		return err
	}

	m.logger.Info(ctx, "resuming scan", "scan_id", cp.ScanID, "pending", len(cp.PendingDirectories))
	m.launch(frontier)
	m.publish(ctx, crawl.EventScanResumed)
	return nil
}

// Stop interrupts the scan, lets the in-flight batch finish within ctx and
// persists the best known checkpoint. A running scan is persisted as
// Cancelled so the next process resumes it; a paused one stays Paused.
func (m *Machine) Stop(ctx context.Context) error {
	m.ctrl.Lock()
	defer m.ctrl.Unlock()

	ctx, span := m.tracer.Start(ctx, "crawl_machine.stop",
		trace.WithAttributes(attribute.String("job", m.job.Name)))
	defer span.End()

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	r := m.run
	m.mu.Unlock()

	if r != nil {
		r.cancel(errStopped)
		select {
		case <-r.done:
		case <-ctx.Done():
			m.logger.Warn(ctx, "scan did not stop before the deadline")
		}
	}

	closeErr := m.pipeline.Close(ctx)
	if closeErr != nil {
		span.RecordError(closeErr)
		m.logger.Warn(ctx, "bulk engine did not drain", "error", closeErr)
	}

	m.mu.Lock()
	state, cp := m.state, m.cp
	m.mu.Unlock()

	if state == crawl.StateRunning {
		var frontier *crawl.Frontier
		if r != nil {
			frontier = r.frontier
		}
		m.cancel(context.WithoutCancel(ctx), cp, frontier, nil)
	}
	return closeErr
}

// Wait blocks until the current scan goroutine exits and returns the fatal
// error that cancelled it, if any.
func (m *Machine) Wait(ctx context.Context) error {
	m.mu.Lock()
	r := m.run
	m.mu.Unlock()

	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatal
}

// ClearCheckpoint forgets everything the job knows about earlier scans. The
// next scan indexes every file again. A persisted Running checkpoint belongs
// to a scan of another process and is only cleared when force is set, which
// recovers the checkpoint of a process that crashed.
func (m *Machine) ClearCheckpoint(ctx context.Context, force bool) error {
	m.ctrl.Lock()
	defer m.ctrl.Unlock()

	ctx, span := m.tracer.Start(ctx, "crawl_machine.clear_checkpoint",
		trace.WithAttributes(attribute.String("job", m.job.Name)))
	defer span.End()

	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state == crawl.StateRunning {
		return &crawl.TransitionError{From: state, To: crawl.StateIdle, Err: crawl.ErrInvalidState}
	}

	if !force {
		persisted, err := m.store.Load(ctx, m.job.Name)
		switch {
		case errors.Is(err, crawl.ErrCheckpointNotFound):
		case err != nil:
			span.RecordError(err)
			return fmt.Errorf("loading checkpoint of %s: %w", m.job.Name, err)
		case persisted.State == crawl.StateRunning:
			m.logger.Warn(ctx, "checkpoint held by a running scan", "scan_id", persisted.ScanID)
			return &crawl.TransitionError{From: persisted.State, To: crawl.StateIdle, Err: crawl.ErrInvalidState}
		}
	}

	if err := m.store.Delete(ctx, m.job.Name); err != nil {
		span.RecordError(err)
		return fmt.Errorf("clearing checkpoint of %s: %w", m.job.Name, err)
	}

	cp := crawl.NewCheckpoint(m.job.Name)
	if state == crawl.StateCompleted || state == crawl.StateCancelled {
		cp.State = state
	}
	m.pipeline.Begin(cp)
	m.frontier.Store(nil)

	m.mu.Lock()
	m.state, m.cp = cp.State, cp
	m.mu.Unlock()

	status := crawl.StatusFromCheckpoint(cp)
	m.status.Store(&status)
	m.logger.Info(ctx, "checkpoint cleared")
	return nil
}

// ForceRescan clears NextCheck so the next scan starts immediately and
// ignores the documents recorded by earlier scans.
func (m *Machine) ForceRescan(ctx context.Context) error {
	m.ctrl.Lock()
	defer m.ctrl.Unlock()

	ctx, span := m.tracer.Start(ctx, "crawl_machine.force_rescan",
		trace.WithAttributes(attribute.String("job", m.job.Name)))
	defer span.End()

	m.mu.Lock()
	state, cp := m.state, m.cp
	m.mu.Unlock()
	if state == crawl.StateRunning {
		return &crawl.TransitionError{From: state, To: crawl.StateRunning, Err: crawl.ErrInvalidState}
	}

	next := cp.Clone()
	next.NextCheck = nil
	next.UpdatedAt = m.timeProvider.Now()
	if err := m.save(ctx, next); err != nil {
		span.RecordError(err)
		return err
	}
	m.logger.Info(ctx, "rescan forced")
	return nil
}

func (m *Machine) launch(frontier *crawl.Frontier) {
	runCtx, cancel := context.WithCancelCause(context.Background())
	r := &run{
		cancel:      cancel,
		done:        make(chan struct{}),
		frontier:    frontier,
		lastPersist: m.timeProvider.Now(),
	}

	m.mu.Lock()
	m.run = r
	m.fatal = nil
	m.mu.Unlock()
	m.frontier.Store(frontier)

	go m.scan(runCtx, r)
}

// scan is the body of the scan goroutine.
func (m *Machine) scan(ctx context.Context, r *run) {
	defer close(r.done)
	defer r.cancel(nil)

	ctx, span := m.tracer.Start(ctx, "crawl_machine.scan",
		trace.WithAttributes(attribute.String("job", m.job.Name)))
	defer span.End()

	err := m.walk(ctx, r)
	if err == nil {
		err = m.complete(ctx, r)
	}

	switch {
	case err == nil:
	case errors.Is(err, errPaused):
		m.park(ctx, r)
	case errors.Is(context.Cause(ctx), errStopped):
		m.logger.Info(ctx, "scan interrupted by shutdown")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		m.mu.Lock()
		cp := m.cp
		m.mu.Unlock()
		if flushErr := m.pipeline.Flush(ctx); flushErr != nil {
			m.logger.Warn(ctx, "flush after failure failed", "error", flushErr)
		}
		m.cancel(ctx, cp, r.frontier, err)
	}
}

func (m *Machine) walk(ctx context.Context, r *run) error {
	gate := func(ctx context.Context) error {
		if r.pause.Load() {
			return errPaused
		}
		return context.Cause(ctx)
	}
	dirGate := func(ctx context.Context) error {
		if err := gate(ctx); err != nil {
			return err
		}
		m.checkpointIfDue(ctx, r)
		return nil
	}

	for d, err := range m.walker.Walk(ctx, r.frontier, dirGate) {
		if err != nil {
			return err
		}
		if err := m.pipeline.ProcessDirectory(ctx, d, gate); err != nil {
			return err
		}
	}
	return nil
}

// checkpointIfDue persists progress at a directory boundary once the
// checkpoint interval elapsed. Only confirmed operations are persisted.
func (m *Machine) checkpointIfDue(ctx context.Context, r *run) {
	now := m.timeProvider.Now()
	if now.Sub(r.lastPersist) < m.checkpointInterval {
		return
	}
	r.lastPersist = now

	if err := m.pipeline.Flush(ctx); err != nil {
		m.logger.Warn(ctx, "flush before checkpoint failed", "error", err)
		return
	}
	m.mu.Lock()
	base := m.cp
	m.mu.Unlock()

	if err := m.save(ctx, m.capture(base, r.frontier, crawl.StateRunning)); err != nil {
		m.logger.Warn(ctx, "periodic checkpoint failed", "error", err)
	}
}

func (m *Machine) complete(ctx context.Context, r *run) error {
	_, completed := r.frontier.Snapshot()
	if err := m.pipeline.Finish(ctx, completed, r.frontier.Unreadable()); err != nil {
		return err
	}
	if err := m.pipeline.Flush(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	base := m.cp
	m.mu.Unlock()

	now := m.timeProvider.Now()
	nextCheck := now.Add(m.job.UpdateRate)
	cp := m.capture(base, nil, crawl.StateCompleted)
	cp.LastScanEnd = &now
	cp.NextCheck = &nextCheck
	cp.PendingDirectories = nil
	cp.CompletedDirectories = nil
	cp.UnreadableDirectories = nil

	m.frontier.Store(nil)
	if err := m.save(ctx, cp); err != nil {
		m.logger.Error(ctx, "persisting completed scan failed", "error", err)
	}

	m.mu.Lock()
	m.completed++
	m.mu.Unlock()

	m.metrics.IncScans(ctx, m.job.Name, "completed")
	m.logger.Info(ctx, "scan completed",
		"scan_id", cp.ScanID,
		"files_processed", cp.FilesProcessed,
		"files_deleted", cp.FilesDeleted,
		"errors", cp.Errors,
		"duration", now.Sub(cp.LastScanStart).String(),
		"next_check", nextCheck)
	m.publish(ctx, crawl.EventScanCompleted)
	return nil
}

// park flushes and persists a paused scan.
func (m *Machine) park(ctx context.Context, r *run) {
	if err := m.pipeline.Flush(ctx); err != nil {
		m.logger.Warn(ctx, "flush on pause failed", "error", err)
	}

	m.mu.Lock()
	base := m.cp
	m.mu.Unlock()

	cp := m.capture(base, r.frontier, crawl.StatePaused)
	if err := m.save(ctx, cp); err != nil {
		m.logger.Error(ctx, "persisting paused scan failed", "error", err)
	}
	m.metrics.IncScans(ctx, m.job.Name, "paused")
	m.logger.Info(ctx, "scan paused", "pending", len(cp.PendingDirectories))
	m.publish(ctx, crawl.EventScanPaused)
}

// cancel persists base as Cancelled. cause, when set, is the fatal error
// returned by Wait.
func (m *Machine) cancel(ctx context.Context, base *crawl.Checkpoint, frontier *crawl.Frontier, cause error) {
	cp := m.capture(base, frontier, crawl.StateCancelled)
	if cause != nil {
		cp.LastError = cause.Error()
		m.logger.Error(ctx, "scan cancelled", "error", cause)
	} else {
		m.logger.Info(ctx, "scan cancelled")
	}

	m.mu.Lock()
	m.fatal = cause
	m.mu.Unlock()

	if err := m.save(ctx, cp); err != nil {
		m.logger.Error(ctx, "persisting cancelled scan failed", "error", err)
	}
	m.metrics.IncScans(ctx, m.job.Name, "cancelled")
	m.publish(ctx, crawl.EventScanCancelled)
}

// capture builds the checkpoint of the current scan from base, the
// confirmed pipeline state and the frontier.
func (m *Machine) capture(base *crawl.Checkpoint, frontier *crawl.Frontier, state crawl.State) *crawl.Checkpoint {
	snap := m.pipeline.snapshot()

	cp := base.Clone()
	cp.State = state
	cp.Documents = snap.documents
	cp.FilesProcessed = snap.processed
	cp.FilesDeleted = snap.deleted
	cp.Errors = snap.errors
	cp.LastError = snap.lastError
	if frontier != nil {
		cp.PendingDirectories, cp.CompletedDirectories = frontier.Snapshot()
		cp.UnreadableDirectories = frontier.Unreadable()
	}
	cp.UpdatedAt = m.timeProvider.Now()
	return cp
}

// save persists cp and makes it the current checkpoint. The in-memory state
// advances even when the store fails so status stays truthful.
func (m *Machine) save(ctx context.Context, cp *crawl.Checkpoint) error {
	err := m.store.Save(ctx, cp)

	m.mu.Lock()
	m.cp = cp
	m.state = cp.State
	m.mu.Unlock()

	status := crawl.StatusFromCheckpoint(cp)
	m.status.Store(&status)

	if err != nil {
		return fmt.Errorf("saving checkpoint of %s: %w", m.job.Name, err)
	}
	return nil
}

// progress refreshes the live counters of the status snapshot.
func (m *Machine) progress() {
	processed, deleted, errs, lastError := m.pipeline.counters()
	var completed, pending int
	if f := m.frontier.Load(); f != nil {
		completed, pending = f.Counts()
	}

	m.updateStatus(func(s *crawl.Status) {
		s.FilesProcessed = processed
		s.FilesDeleted = deleted
		s.Errors = errs
		s.LastError = lastError
		if s.State == crawl.StateRunning {
			s.CompletedDirectories = completed
			s.PendingDirectories = pending
		}
	})
}

func (m *Machine) updateStatus(fn func(*crawl.Status)) {
	for {
		old := m.status.Load()
		next := *old
		fn(&next)
		if m.status.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (m *Machine) publish(ctx context.Context, typ crawl.EventType) {
	status := m.Status()
	evt := crawl.Event{
		Type:       typ,
		Job:        m.job.Name,
		ScanID:     status.ScanID,
		OccurredAt: m.timeProvider.Now(),
		Status:     status,
	}
	if err := m.publisher.Publish(ctx, evt); err != nil {
		m.logger.Warn(ctx, "failed to publish crawl event", "type", string(typ), "error", err)
	}
}
