package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ScheduleRepository interface {
	Upsert(ctx context.Context, c *domain.ScheduleConfig) error
	Get(ctx context.Context, siteID string) (*domain.ScheduleConfig, error)
	ListEnabled(ctx context.Context) ([]domain.ScheduleConfig, error)
	ClaimRun(ctx context.Context, siteID string, expectedNextRunAt time.Time, nextRunAt time.Time, lastRunAt time.Time) (bool, error)
	MarkRun(ctx context.Context, siteID string, lastRunAt time.Time) error
}

type GormScheduleRepo struct {
	db *gorm.DB
}

func NewGormScheduleRepo(db *gorm.DB) *GormScheduleRepo {
	return &GormScheduleRepo{db: db}
}

// Upsert inserts or replaces the site's schedule. lastRunAt and createdAt of
// an existing row are preserved.
func (r *GormScheduleRepo) Upsert(ctx context.Context, c *domain.ScheduleConfig) error {
	model := scheduleModelFromDomain(c)
	if model == nil {
		return domain.ErrValidation
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "site_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"frequency",
				"interval_hours",
				"specific_days",
				"specific_time",
				"max_urls_per_run",
				"distribute_across_day",
				"pause_on_quota_exceeded",
				"enabled",
				"next_run_at",
				"updated_at",
			}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	stored, err := r.Get(ctx, c.SiteID)
	if err != nil {
		return err
	}
	*c = *stored
	return nil
}

func (r *GormScheduleRepo) Get(ctx context.Context, siteID string) (*domain.ScheduleConfig, error) {
	var model ScheduleConfigModel
	err := r.db.WithContext(ctx).First(&model, "site_id = ?", siteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return scheduleModelToDomain(&model), nil
}

func (r *GormScheduleRepo) ListEnabled(ctx context.Context) ([]domain.ScheduleConfig, error) {
	var models []ScheduleConfigModel
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("next_run_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	configs := make([]domain.ScheduleConfig, 0, len(models))
	for i := range models {
		configs = append(configs, *scheduleModelToDomain(&models[i]))
	}
	return configs, nil
}

// ClaimRun advances nextRunAt only if it still equals expectedNextRunAt. It
// reports false when another node claimed the run first.
func (r *GormScheduleRepo) ClaimRun(
	ctx context.Context,
	siteID string,
	expectedNextRunAt time.Time,
	nextRunAt time.Time,
	lastRunAt time.Time,
) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&ScheduleConfigModel{}).
		Where("site_id = ? AND enabled = ? AND next_run_at = ?", siteID, true, storedInstant(expectedNextRunAt)).
		Updates(map[string]any{
			"next_run_at": storedInstant(nextRunAt),
			"last_run_at": lastRunAt.UTC(),
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkRun records an evaluated manual run without touching nextRunAt.
func (r *GormScheduleRepo) MarkRun(ctx context.Context, siteID string, lastRunAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&ScheduleConfigModel{}).
		Where("site_id = ?", siteID).
		Updates(map[string]any{
			"last_run_at": lastRunAt.UTC(),
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// storedInstant is the precision next_run_at is kept at, so that ClaimRun can
// compare it for equality on every driver.
func storedInstant(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
