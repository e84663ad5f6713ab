package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/repository"
	"github.com/kursadbilgin/indexing-engine/internal/schedule"
	"go.uber.org/zap"
)

// Rescheduler is told about every stored schedule change.
type Rescheduler interface {
	Reschedule(cfg domain.ScheduleConfig)
}

type ScheduleService struct {
	schedules   repository.ScheduleRepository
	rescheduler Rescheduler
	logger      *zap.Logger
	now         func() time.Time
}

func NewScheduleService(
	schedules repository.ScheduleRepository,
	rescheduler Rescheduler,
	logger *zap.Logger,
) (*ScheduleService, error) {
	if schedules == nil {
		return nil, fmt.Errorf("schedule repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ScheduleService{
		schedules:   schedules,
		rescheduler: rescheduler,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Upsert validates cfg, computes its first nextRunAt from now and stores it.
// Saving a config always restarts its timer; lastRunAt is kept.
func (s *ScheduleService) Upsert(ctx context.Context, cfg domain.ScheduleConfig) (*domain.ScheduleConfig, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	cfg.NextRunAt = schedule.ComputeNextRun(cfg, now)
	cfg.UpdatedAt = now
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}

	if err := s.schedules.Upsert(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to store schedule for site %s: %w", cfg.SiteID, err)
	}

	if s.rescheduler != nil {
		s.rescheduler.Reschedule(cfg)
	}

	s.logger.Info("schedule saved",
		zap.String("siteId", cfg.SiteID),
		zap.String("frequency", cfg.Frequency.String()),
		zap.Bool("enabled", cfg.Enabled),
		zap.Time("nextRunAt", cfg.NextRunAt),
	)
	return &cfg, nil
}

func (s *ScheduleService) Get(ctx context.Context, siteID string) (*domain.ScheduleConfig, error) {
	siteID = strings.TrimSpace(siteID)
	if siteID == "" {
		return nil, fmt.Errorf("%w: siteId is required", domain.ErrValidation)
	}
	return s.schedules.Get(ctx, siteID)
}
