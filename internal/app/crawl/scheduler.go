package crawl

import (
	"context"
	"errors"
	"time"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
	"github.com/fscrawl/fscrawl/pkg/common/logger"
)

// DefaultSchedulerTick is how often the scheduler checks whether a scan is
// due.
const DefaultSchedulerTick = time.Second

// Scheduler starts the scans of one machine whenever they are due.
type Scheduler struct {
	machine      *Machine
	tick         time.Duration
	timeProvider timeProvider
	logger       *logger.Logger
}

// NewScheduler creates a scheduler for m. A non-positive tick uses
// DefaultSchedulerTick.
func NewScheduler(m *Machine, tick time.Duration, logger *logger.Logger) *Scheduler {
	if tick <= 0 {
		tick = DefaultSchedulerTick
	}
	return &Scheduler{
		machine:      m,
		tick:         tick,
		timeProvider: realTimeProvider{},
		logger:       logger.With("component", "scheduler", "job", m.job.Name),
	}
}

// Run starts scans until ctx ends. With loops > 0 it returns once that many
// scans completed. A fatal scan error ends the loop and is returned.
func (s *Scheduler) Run(ctx context.Context, loops int) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	base := s.machine.Completed()
	for {
		if loops > 0 && s.machine.Completed()-base >= int64(loops) {
			s.logger.Info(ctx, "scan loops finished", "loops", loops)
			return nil
		}

		if s.machine.Due(s.timeProvider.Now()) {
			err := s.machine.Start(ctx)
			switch {
			case err == nil:
			case errors.Is(err, crawl.ErrAlreadyRunning):
			case errors.Is(err, crawl.ErrScanStartFailure):
				return err
			default:
				s.logger.Warn(ctx, "failed to start scan", "error", err)
			}
		}

		if s.machine.Status().State == crawl.StateCancelled {
			return s.machine.Wait(ctx)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
