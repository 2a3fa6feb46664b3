package control

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
	"github.com/fscrawl/fscrawl/pkg/common/logger"
)

type mockCrawler struct {
	mock.Mock
}

func (m *mockCrawler) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockCrawler) Pause(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockCrawler) Resume(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockCrawler) ClearCheckpoint(ctx context.Context, force bool) error {
	return m.Called(ctx, force).Error(0)
}

func (m *mockCrawler) ForceRescan(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockCrawler) Stop(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockCrawler) Status() crawl.Status {
	return m.Called().Get(0).(crawl.Status)
}

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, loops int) error {
	return m.Called(ctx, loops).Error(0)
}

func newTestService(t *testing.T, jobs ...Job) *Service {
	t.Helper()
	s, err := NewService(jobs, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	require.NoError(t, err)
	return s
}

func TestService_Operations(t *testing.T) {
	running := crawl.Status{Job: "docs", State: crawl.StateRunning}

	tests := []struct {
		name     string
		setup    func(c *mockCrawler)
		call     func(s *Service) Result
		wantOK   bool
		wantNoOp bool
		wantMsg  string
		wantErr  error
	}{
		{
			name:    "start",
			setup:   func(c *mockCrawler) { c.On("Start", mock.Anything).Return(nil) },
			call:    func(s *Service) Result { return s.Start(context.Background(), "docs") },
			wantOK:  true,
			wantMsg: "crawl started",
		},
		{
			name: "start while running",
			setup: func(c *mockCrawler) {
				c.On("Start", mock.Anything).Return(&crawl.TransitionError{
					From: crawl.StateRunning, To: crawl.StateRunning, Err: crawl.ErrAlreadyRunning,
				})
			},
			call:    func(s *Service) Result { return s.Start(context.Background(), "docs") },
			wantErr: crawl.ErrAlreadyRunning,
		},
		{
			name:    "pause",
			setup:   func(c *mockCrawler) { c.On("Pause", mock.Anything).Return(false, nil) },
			call:    func(s *Service) Result { return s.Pause(context.Background(), "docs") },
			wantOK:  true,
			wantMsg: "crawl paused",
		},
		{
			name:     "pause already paused",
			setup:    func(c *mockCrawler) { c.On("Pause", mock.Anything).Return(true, nil) },
			call:     func(s *Service) Result { return s.Pause(context.Background(), "docs") },
			wantOK:   true,
			wantNoOp: true,
			wantMsg:  "crawl already paused",
		},
		{
			name:    "resume invalid",
			setup:   func(c *mockCrawler) { c.On("Resume", mock.Anything).Return(crawl.ErrInvalidState) },
			call:    func(s *Service) Result { return s.Resume(context.Background(), "docs") },
			wantErr: crawl.ErrInvalidState,
		},
		{
			name:    "clear checkpoint",
			setup:   func(c *mockCrawler) { c.On("ClearCheckpoint", mock.Anything, true).Return(nil) },
			call:    func(s *Service) Result { return s.ClearCheckpoint(context.Background(), "docs", true) },
			wantOK:  true,
			wantMsg: "checkpoint cleared",
		},
		{
			name:    "force rescan",
			setup:   func(c *mockCrawler) { c.On("ForceRescan", mock.Anything).Return(nil) },
			call:    func(s *Service) Result { return s.ForceRescan(context.Background(), "docs") },
			wantOK:  true,
			wantMsg: "rescan forced",
		},
		{
			name:    "status",
			setup:   func(*mockCrawler) {},
			call:    func(s *Service) Result { return s.Status(context.Background(), "docs") },
			wantOK:  true,
			wantMsg: "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := new(mockCrawler)
			c.On("Status").Return(running)
			tt.setup(c)
			s := newTestService(t, Job{Name: "docs", Crawler: c})

			res := tt.call(s)
			assert.Equal(t, tt.wantOK, res.OK)
			assert.Equal(t, tt.wantNoOp, res.NoOp)
			require.NotNil(t, res.Status)
			assert.Equal(t, running, *res.Status)
			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Err, tt.wantErr)
				assert.Equal(t, res.Err.Error(), res.Message)
				return
			}
			assert.NoError(t, res.Err)
			assert.Equal(t, tt.wantMsg, res.Message)
			c.AssertExpectations(t)
		})
	}
}

func TestService_UnknownJob(t *testing.T) {
	s := newTestService(t)
	res := s.Start(context.Background(), "nope")
	assert.False(t, res.OK)
	assert.Nil(t, res.Status)
	assert.ErrorIs(t, res.Err, ErrUnknownJob)
}

func TestService_DuplicateJobs(t *testing.T) {
	_, err := NewService([]Job{{Name: "a"}, {Name: "a"}}, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	assert.Error(t, err)
}

func TestService_RunAll(t *testing.T) {
	a, b := new(mockRunner), new(mockRunner)
	a.On("Run", mock.Anything, 2).Return(nil)
	b.On("Run", mock.Anything, 2).Return(nil)

	s := newTestService(t,
		Job{Name: "b", Crawler: new(mockCrawler), Runner: b},
		Job{Name: "a", Crawler: new(mockCrawler), Runner: a},
	)
	assert.Equal(t, []string{"a", "b"}, s.Jobs())
	require.NoError(t, s.RunAll(context.Background(), 2))
	a.AssertExpectations(t)
	b.AssertExpectations(t)
}

func TestService_RunAllCancelsOthersOnFailure(t *testing.T) {
	failing := new(mockRunner)
	failing.On("Run", mock.Anything, 0).Return(crawl.ErrScanStartFailure)

	blocking := new(mockRunner)
	blocking.On("Run", mock.Anything, 0).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
	}).Return(nil)

	s := newTestService(t,
		Job{Name: "bad", Crawler: new(mockCrawler), Runner: failing},
		Job{Name: "good", Crawler: new(mockCrawler), Runner: blocking},
	)
	err := s.RunAll(context.Background(), 0)
	assert.ErrorIs(t, err, crawl.ErrScanStartFailure)
	assert.Contains(t, err.Error(), "job bad")
}

func TestService_Shutdown(t *testing.T) {
	a, b := new(mockCrawler), new(mockCrawler)
	a.On("Stop", mock.Anything).Return(nil)
	b.On("Stop", mock.Anything).Return(errors.New("deadline"))

	s := newTestService(t, Job{Name: "a", Crawler: a}, Job{Name: "b", Crawler: b})
	err := s.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopping b")
	a.AssertExpectations(t)
}
