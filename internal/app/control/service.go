// Package control exposes the operations an operator can run against the
// configured crawl jobs.
package control

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
	"github.com/fscrawl/fscrawl/pkg/common/logger"
)

// ErrUnknownJob is returned for a job name that was not configured.
var ErrUnknownJob = errors.New("unknown job")

// Crawler is the lifecycle of a single job.
type Crawler interface {
	Start(ctx context.Context) error
	Pause(ctx context.Context) (noop bool, err error)
	Resume(ctx context.Context) error
	ClearCheckpoint(ctx context.Context, force bool) error
	ForceRescan(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() crawl.Status
}

// Runner schedules the scans of a job until ctx ends.
type Runner interface {
	Run(ctx context.Context, loops int) error
}

// Job binds a crawler and its runner under the job's name.
type Job struct {
	Name    string
	Crawler Crawler
	Runner  Runner
}

// Result is the outcome of a control operation.
type Result struct {
	OK      bool          `json:"ok"`
	Message string        `json:"message"`
	NoOp    bool          `json:"noop,omitempty"`
	Status  *crawl.Status `json:"status,omitempty"`
	Err     error         `json:"-"`
}

// Service dispatches control operations to the jobs it was built with. The
// set of jobs is fixed at construction.
type Service struct {
	jobs  map[string]Job
	names []string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates a Service over jobs. Job names must be unique.
func NewService(jobs []Job, logger *logger.Logger, tracer trace.Tracer) (*Service, error) {
	s := &Service{
		jobs:   make(map[string]Job, len(jobs)),
		logger: logger.With("component", "control_service"),
		tracer: tracer,
	}
	for _, j := range jobs {
		if _, dup := s.jobs[j.Name]; dup {
			return nil, fmt.Errorf("duplicate job %q", j.Name)
		}
		s.jobs[j.Name] = j
		s.names = append(s.names, j.Name)
	}
	slices.Sort(s.names)
	return s, nil
}

// Jobs returns the configured job names, sorted.
func (s *Service) Jobs() []string { return slices.Clone(s.names) }

// Start begins a scan of the named job.
func (s *Service) Start(ctx context.Context, name string) Result {
	return s.do(ctx, "start", name, func(ctx context.Context, c Crawler) (string, bool, error) {
		return "crawl started", false, c.Start(ctx)
	})
}

// Pause parks the named job's scan. Pausing a paused job succeeds as a
// no-op.
func (s *Service) Pause(ctx context.Context, name string) Result {
	return s.do(ctx, "pause", name, func(ctx context.Context, c Crawler) (string, bool, error) {
		noop, err := c.Pause(ctx)
		if noop {
			return "crawl already paused", true, err
		}
		return "crawl paused", false, err
	})
}

// Resume continues the named job's paused scan.
func (s *Service) Resume(ctx context.Context, name string) Result {
	return s.do(ctx, "resume", name, func(ctx context.Context, c Crawler) (string, bool, error) {
		return "crawl resumed", false, c.Resume(ctx)
	})
}

// ClearCheckpoint drops what the named job remembers about earlier scans.
// force also clears a checkpoint another process left Running.
func (s *Service) ClearCheckpoint(ctx context.Context, name string, force bool) Result {
	return s.do(ctx, "clear_checkpoint", name, func(ctx context.Context, c Crawler) (string, bool, error) {
		return "checkpoint cleared", false, c.ClearCheckpoint(ctx, force)
	})
}

// ForceRescan makes the named job rescan everything on its next run.
func (s *Service) ForceRescan(ctx context.Context, name string) Result {
	return s.do(ctx, "force_rescan", name, func(ctx context.Context, c Crawler) (string, bool, error) {
		return "rescan forced", false, c.ForceRescan(ctx)
	})
}

// Status reports the named job's status snapshot.
func (s *Service) Status(ctx context.Context, name string) Result {
	return s.do(ctx, "status", name, func(context.Context, Crawler) (string, bool, error) {
		return "ok", false, nil
	})
}

func (s *Service) do(
	ctx context.Context,
	op, name string,
	fn func(ctx context.Context, c Crawler) (msg string, noop bool, err error),
) Result {
	ctx, span := s.tracer.Start(ctx, "control_service."+op,
		trace.WithAttributes(attribute.String("job", name)))
	defer span.End()

	job, ok := s.jobs[name]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownJob, name)
		span.SetStatus(codes.Error, "unknown job")
		return Result{Message: err.Error(), Err: err}
	}

	msg, noop, err := fn(ctx, job.Crawler)
	status := job.Crawler.Status()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		s.logger.Warn(ctx, "control operation failed", "operation", op, "job", name, "error", err)
		return Result{Message: err.Error(), Status: &status, Err: err}
	}

	span.SetStatus(codes.Ok, msg)
	if op != "status" {
		s.logger.Info(ctx, msg, "job", name)
	}
	return Result{OK: true, Message: msg, NoOp: noop, Status: &status}
}

// RunAll runs every job's scheduler concurrently until ctx ends, each job
// completes loops scans (when loops > 0) or one of them fails.
func (s *Service) RunAll(ctx context.Context, loops int) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range s.names {
		job := s.jobs[name]
		if job.Runner == nil {
			continue
		}
		g.Go(func() error {
			if err := job.Runner.Run(gctx, loops); err != nil {
				return fmt.Errorf("job %s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Shutdown stops every job concurrently. Each job flushes and persists
// within ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "control_service.shutdown")
	defer span.End()

	var g errgroup.Group
	for _, name := range s.names {
		job := s.jobs[name]
		g.Go(func() error {
			if err := job.Crawler.Stop(ctx); err != nil {
				return fmt.Errorf("stopping %s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return err
	}
	s.logger.Info(ctx, "all jobs stopped", "jobs", len(s.names))
	return nil
}
