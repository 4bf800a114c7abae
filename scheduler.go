package testbridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// RunScheduler is responsible for scheduling bridge runs.
type RunScheduler interface {
	Start(ctx context.Context) error
	Stop() error
	RegisterCallback(func(ctx context.Context) error)
	WaitForShutdown(ctx context.Context) error
	Stopped() bool
}

// DefaultRunScheduler runs the callback once on Start and then every
// interval until stopped. The context handed to a callback is cancelled by
// Stop so that an in-flight run aborts.
type DefaultRunScheduler struct {
	interval time.Duration
	runOnce  bool
	logger   log.Logger
	callback func(ctx context.Context) error

	running atomic.Bool
	runs    atomic.Int64
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ RunScheduler = (*DefaultRunScheduler)(nil)

// NewDefaultRunScheduler creates a new DefaultRunScheduler.
func NewDefaultRunScheduler(interval time.Duration, runOnce bool, logger log.Logger) *DefaultRunScheduler {
	return &DefaultRunScheduler{
		interval: interval,
		runOnce:  runOnce,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// RegisterCallback registers the callback to be called when a run is due.
func (s *DefaultRunScheduler) RegisterCallback(callback func(ctx context.Context) error) {
	s.callback = callback
}

// Runs returns how many times the callback was invoked.
func (s *DefaultRunScheduler) Runs() int64 {
	return s.runs.Load()
}

func (s *DefaultRunScheduler) run(ctx context.Context) error {
	s.runs.Add(1)
	return s.callback(ctx)
}

// Start runs the callback immediately. In run-once mode it returns the
// callback's error, otherwise a failing first run stops the scheduler
// before any periodic run is scheduled.
func (s *DefaultRunScheduler) Start(ctx context.Context) error {
	if s.callback == nil {
		return errors.New("callback must be registered before starting scheduler")
	}
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	if s.runOnce {
		s.logger.Info("Starting scheduler in run-once mode")
		return s.run(runCtx)
	}

	s.logger.Info("Starting scheduler in continuous mode", "interval", s.interval)

	if err := s.run(runCtx); err != nil {
		s.running.Store(false)
		cancel()
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Debug("Starting periodic runner goroutine", "interval", s.interval)

		timer := time.NewTimer(s.interval)
		defer timer.Stop()
		for {
			select {
			case <-timer.C:
				if !s.running.Load() {
					s.logger.Debug("Scheduler stopped, exiting periodic runner")
					return
				}
				s.logger.Info("Running periodic run", "run", s.runs.Load()+1)
				if err := s.run(runCtx); err != nil {
					s.logger.Error("Error in periodic run", "error", err)
				}
				timer.Reset(s.interval)

			case <-s.done:
				s.logger.Debug("Done signal received, stopping periodic runner")
				return

			case <-runCtx.Done():
				s.logger.Debug("Context canceled, stopping periodic runner")
				s.running.Store(false)
				return
			}
		}
	}()

	return nil
}

// Stop stops the scheduler and cancels an in-flight run.
func (s *DefaultRunScheduler) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		s.logger.Debug("Scheduler already stopped, nothing to do")
		return nil
	}

	s.logger.Debug("Sending done signal to goroutines")
	close(s.done)
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// Stopped returns true if the scheduler is stopped.
func (s *DefaultRunScheduler) Stopped() bool {
	return !s.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
func (s *DefaultRunScheduler) WaitForShutdown(ctx context.Context) error {
	s.logger.Debug("Waiting for all goroutines to terminate")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug("All goroutines terminated successfully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
