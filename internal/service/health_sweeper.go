package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/health"
	"go.uber.org/zap"
)

const defaultHealthSweepInterval = time.Minute

// HealthSweeper periodically recovers credentials whose cooldown has elapsed.
type HealthSweeper struct {
	monitor  *health.Monitor
	logger   *zap.Logger
	interval time.Duration
}

func NewHealthSweeper(monitor *health.Monitor, interval time.Duration, logger *zap.Logger) (*HealthSweeper, error) {
	if monitor == nil {
		return nil, fmt.Errorf("health monitor is required")
	}
	if interval <= 0 {
		interval = defaultHealthSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HealthSweeper{
		monitor:  monitor,
		logger:   logger,
		interval: interval,
	}, nil
}

func (s *HealthSweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *HealthSweeper) sweep(ctx context.Context) {
	recovered, err := s.monitor.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("health sweep failed", zap.Error(err))
	}
	if recovered > 0 {
		s.logger.Info("credentials recovered", zap.Int("count", recovered))
	}
}
