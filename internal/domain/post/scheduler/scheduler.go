package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DuePostProcessor dispatches every post due at the given time
type DuePostProcessor interface {
	ProcessDuePosts(ctx context.Context, now time.Time) error
}

// Clock tells the scheduler what time it is
type Clock interface {
	Now() time.Time
}

// RealClock is the wall clock
type RealClock struct{}

// Now returns time.Now in UTC
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Scheduler periodically dispatches due scheduled posts
type Scheduler struct {
	processor DuePostProcessor
	clock     Clock
	interval  time.Duration
	logger    *slog.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

// Option configures the Scheduler
type Option func(*Scheduler)

// WithClock overrides the scheduler clock
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// New creates a new scheduler
func New(processor DuePostProcessor, interval time.Duration, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		processor: processor,
		clock:     RealClock{},
		interval:  interval,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("post scheduler started", "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the scheduler and waits for the current tick to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("post scheduler stopped")
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	s.Tick(ctx)

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Tick runs one scheduling pass at the clock's current time
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock.Now()
	s.logger.Debug("processing due posts", "now", now)

	if err := s.processor.ProcessDuePosts(ctx, now); err != nil {
		s.logger.Error("failed to process due posts", "error", err)
	}
}
