package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/erp/procurement/internal/domain/shared"
	"github.com/erp/procurement/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DispatchExecutor runs a due portal dispatch and re-arms retries after a restart
type DispatchExecutor interface {
	RetryDispatch(ctx context.Context, orderID uuid.UUID) error
	RecoverPendingRetries(ctx context.Context, staleAfter time.Duration) (int, error)
}

// DispatchSchedulerConfig holds retry scheduler configuration
type DispatchSchedulerConfig struct {
	Workers      int
	QueueSize    int
	JobTimeout   time.Duration
	PollInterval time.Duration // how often pending retries are recovered from the store; 0 disables
	StaleAfter   time.Duration // attempts sending for longer are treated as interrupted
	RequeueDelay time.Duration // delay used when the queue is full or the order is busy
}

// DefaultDispatchSchedulerConfig returns default retry scheduler configuration
func DefaultDispatchSchedulerConfig() DispatchSchedulerConfig {
	return DispatchSchedulerConfig{
		Workers:      4,
		QueueSize:    256,
		JobTimeout:   time.Minute,
		PollInterval: time.Minute,
		StaleAfter:   5 * time.Minute,
		RequeueDelay: time.Second,
	}
}

// Validate checks the configuration
func (c DispatchSchedulerConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", ErrInvalidConfig)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue size must be at least 1", ErrInvalidConfig)
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("%w: job timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// DispatchRetryScheduler runs delayed portal dispatches. It keeps at most one
// pending timer per order; scheduling again replaces the previous one. Due
// orders are handed to a fixed worker pool and an order is never dispatched by
// two workers at once.
type DispatchRetryScheduler struct {
	config   DispatchSchedulerConfig
	executor DispatchExecutor
	clock    shared.Clock
	logger   *zap.Logger

	jobs    chan uuid.UUID
	timers  map[uuid.UUID]armedTimer
	pending map[uuid.UUID]time.Time // scheduled before Start
	busy    map[uuid.UUID]bool
	gen     uint64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewDispatchRetryScheduler creates a new scheduler; nil clock means the system clock
func NewDispatchRetryScheduler(config DispatchSchedulerConfig, executor DispatchExecutor, clock shared.Clock, logger *zap.Logger) (*DispatchRetryScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.RequeueDelay <= 0 {
		config.RequeueDelay = time.Second
	}
	if clock == nil {
		clock = shared.NewSystemClock()
	}
	return &DispatchRetryScheduler{
		config:   config,
		executor: executor,
		clock:    clock,
		logger:   logger,
		jobs:     make(chan uuid.UUID, config.QueueSize),
		timers:   make(map[uuid.UUID]armedTimer),
		pending:  make(map[uuid.UUID]time.Time),
		busy:     make(map[uuid.UUID]bool),
	}, nil
}

// Start starts the worker pool, recovers pending retries and arms anything
// scheduled while stopped
func (s *DispatchRetryScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	for orderID, at := range s.pending {
		s.armLocked(orderID, at)
	}
	s.pending = make(map[uuid.UUID]time.Time)
	s.mu.Unlock()

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(s.ctx, i)
	}

	s.recover(s.ctx)
	if s.config.PollInterval > 0 {
		s.wg.Add(1)
		go s.pollLoop(s.ctx)
	}

	s.logger.Info("Dispatch retry scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Duration("poll_interval", s.config.PollInterval),
	)
	return nil
}

// Stop cancels every timer and waits for running dispatches to finish
func (s *DispatchRetryScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	for orderID, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, orderID)
	}
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Dispatch retry scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Dispatch retry scheduler stop timed out")
		return ctx.Err()
	}
}

// Schedule arranges a dispatch of the order at the given time, replacing any
// earlier schedule for it
func (s *DispatchRetryScheduler) Schedule(orderID uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		s.pending[orderID] = at
		return
	}
	s.armLocked(orderID, at)
	s.logger.Debug("Dispatch scheduled",
		zap.String("order_id", orderID.String()),
		zap.Time("at", at),
	)
}

// Cancel drops the pending schedule of the order, if any
func (s *DispatchRetryScheduler) Cancel(orderID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, orderID)
	if t, ok := s.timers[orderID]; ok {
		t.timer.Stop()
		delete(s.timers, orderID)
	}
}

// Pending returns how many orders have an armed timer
func (s *DispatchRetryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers) + len(s.pending)
}

// IsRunning reports whether the scheduler is running
func (s *DispatchRetryScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// armedTimer is a pending timer and the arm generation it belongs to
type armedTimer struct {
	timer *time.Timer
	gen   uint64
}

func (s *DispatchRetryScheduler) armLocked(orderID uuid.UUID, at time.Time) {
	if t, ok := s.timers[orderID]; ok {
		t.timer.Stop()
	}
	delay := at.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	s.gen++
	gen := s.gen
	// the callback blocks on s.mu until the entry below is stored
	s.timers[orderID] = armedTimer{
		timer: time.AfterFunc(delay, func() { s.fire(orderID, gen) }),
		gen:   gen,
	}
}

// fire moves a due order onto the job queue. A timer that was replaced or
// cancelled meanwhile does nothing.
func (s *DispatchRetryScheduler) fire(orderID uuid.UUID, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[orderID]; !s.isRunning || !ok || t.gen != gen {
		return
	}
	delete(s.timers, orderID)

	if s.busy[orderID] {
		s.armLocked(orderID, s.clock.Now().Add(s.config.RequeueDelay))
		return
	}
	select {
	case s.jobs <- orderID:
		s.busy[orderID] = true
	default:
		s.logger.Warn("Dispatch queue full, deferring order",
			zap.String("order_id", orderID.String()),
			zap.Error(ErrJobQueueFull),
		)
		s.armLocked(orderID, s.clock.Now().Add(s.config.RequeueDelay))
	}
}

func (s *DispatchRetryScheduler) worker(ctx context.Context, workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case orderID := <-s.jobs:
			s.process(ctx, orderID, workerID)
		}
	}
}

func (s *DispatchRetryScheduler) process(ctx context.Context, orderID uuid.UUID, workerID int) {
	defer func() {
		s.mu.Lock()
		delete(s.busy, orderID)
		s.mu.Unlock()
	}()

	jobCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	telemetry.WithProfilingLabels(jobCtx, map[string]string{"job": "dispatch_retry"}, func(ctx context.Context) {
		if err := s.executor.RetryDispatch(ctx, orderID); err != nil {
			s.logger.Warn("Scheduled dispatch failed",
				zap.Int("worker_id", workerID),
				zap.String("order_id", orderID.String()),
				zap.Error(err),
			)
		}
	})
}

func (s *DispatchRetryScheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.recover(ctx)
		}
	}
}

func (s *DispatchRetryScheduler) recover(ctx context.Context) {
	n, err := s.executor.RecoverPendingRetries(ctx, s.config.StaleAfter)
	if err != nil {
		s.logger.Error("Failed to recover pending dispatch retries", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("Recovered pending dispatch retries", zap.Int("orders", n))
	}
}
