// Package scheduler runs the update cycle on a timer.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"goflare.io/pricekeeper/internal/models"
	"goflare.io/pricekeeper/internal/retrier"
)

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler already running")

// Runner runs one update cycle.
type Runner interface {
	Run(ctx context.Context) (*models.Report, error)
}

// Status is a snapshot of the scheduler state.
type Status struct {
	Running   bool
	Runs      int64
	LastRun   time.Time
	LastError string
	Published int
	Unchanged int
	Failed    int
}

// Scheduler runs the cycle once on Start and then every interval. A run
// whose lot listing fails with a temporary error is retried with back-off.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	retrier  *retrier.Retrier
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	running    *atomic.Bool
	runs       *atomic.Int64
	lastRun    *atomic.Time
	lastError  *atomic.String
	lastReport *atomic.Pointer[models.Report]
}

// New creates a Scheduler. A nil retrier runs each cycle once.
func New(runner Runner, interval time.Duration, r *retrier.Retrier, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:     runner,
		interval:   interval,
		retrier:    r,
		logger:     logger,
		running:    atomic.NewBool(false),
		runs:       atomic.NewInt64(0),
		lastRun:    atomic.NewTime(time.Time{}),
		lastError:  atomic.NewString(""),
		lastReport: atomic.NewPointer[models.Report](nil),
	}
}

// Start launches the loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)
	go s.loop(ctx, s.done)
	return nil
}

// Stop cancels the loop and waits for the current run to end.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.running.Store(false)
	defer s.release(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// release clears the run state when the loop ends on its parent context,
// so that a later Start is accepted. Stop has already cleared it otherwise.
func (s *Scheduler) release(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != done {
		return
	}
	s.cancel()
	s.cancel, s.done = nil, nil
}

// RunOnce runs one cycle with back-off on temporary lot store outages.
func (s *Scheduler) RunOnce(ctx context.Context) (*models.Report, error) {
	var report *models.Report
	run := func() error {
		var err error
		report, err = s.runner.Run(ctx)
		if err != nil && retrier.IsTemporary(err) {
			s.logger.Warn("Update cycle could not start, backing off", zap.Error(err))
		}
		return err
	}

	var err error
	if s.retrier != nil {
		err = s.retrier.Run(ctx, run)
	} else {
		err = run()
	}

	s.runs.Inc()
	s.lastRun.Store(time.Now())
	if report != nil {
		s.lastReport.Store(report)
	}
	if err != nil {
		s.lastError.Store(err.Error())
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("Update cycle failed", zap.Error(err))
		}
	} else {
		s.lastError.Store("")
	}
	return report, err
}

// Status returns the current state.
func (s *Scheduler) Status() Status {
	st := Status{
		Running:   s.running.Load(),
		Runs:      s.runs.Load(),
		LastRun:   s.lastRun.Load(),
		LastError: s.lastError.Load(),
	}
	if r := s.lastReport.Load(); r != nil {
		st.Published, st.Unchanged, st.Failed = r.Published, r.Unchanged, r.Failed
	}
	return st
}
