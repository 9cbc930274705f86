package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StepExpirer expires overdue approval steps
type StepExpirer interface {
	ExpireDueSteps(ctx context.Context, limit int) (int, error)
}

// ApprovalExpirySweeperConfig holds sweeper configuration
type ApprovalExpirySweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

// DefaultApprovalExpirySweeperConfig returns default sweeper configuration
func DefaultApprovalExpirySweeperConfig() ApprovalExpirySweeperConfig {
	return ApprovalExpirySweeperConfig{
		Interval:  time.Minute,
		BatchSize: 100,
	}
}

// ApprovalExpirySweeper periodically expires approval steps past their deadline
type ApprovalExpirySweeper struct {
	config  ApprovalExpirySweeperConfig
	expirer StepExpirer
	logger  *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewApprovalExpirySweeper creates a new sweeper
func NewApprovalExpirySweeper(config ApprovalExpirySweeperConfig, expirer StepExpirer, logger *zap.Logger) *ApprovalExpirySweeper {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &ApprovalExpirySweeper{config: config, expirer: expirer, logger: logger}
}

// Start begins sweeping in the background
func (s *ApprovalExpirySweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("Approval expiry sweeper started", zap.Duration("interval", s.config.Interval))
	return nil
}

// Stop stops sweeping and waits for the current sweep
func (s *ApprovalExpirySweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepOnce expires due steps batch by batch until a batch comes back short
func (s *ApprovalExpirySweeper) SweepOnce(ctx context.Context) int {
	total := 0
	for ctx.Err() == nil {
		n, err := s.expirer.ExpireDueSteps(ctx, s.config.BatchSize)
		if err != nil {
			s.logger.Error("Approval expiry sweep failed", zap.Error(err))
			break
		}
		total += n
		if n < s.config.BatchSize {
			break
		}
	}
	if total > 0 {
		s.logger.Info("Expired approval steps", zap.Int("count", total))
	}
	return total
}

func (s *ApprovalExpirySweeper) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}
