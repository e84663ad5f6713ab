package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QueuedURLRepository interface {
	Enqueue(ctx context.Context, siteID string, urls []string) (int, error)
	Peek(ctx context.Context, siteID string, limit int) ([]domain.QueuedURL, error)
	Count(ctx context.Context, siteID string) (int, error)
}

type GormQueuedURLRepo struct {
	db *gorm.DB
}

func NewGormQueuedURLRepo(db *gorm.DB) *GormQueuedURLRepo {
	return &GormQueuedURLRepo{db: db}
}

// Enqueue adds urls to the site's backlog, skipping ones already queued. It
// returns how many rows were inserted.
func (r *GormQueuedURLRepo) Enqueue(ctx context.Context, siteID string, urls []string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	models := make([]QueuedURLModel, 0, len(urls))
	for i, u := range urls {
		models = append(models, QueuedURLModel{
			ID:     uuid.NewString(),
			SiteID: siteID,
			URL:    u,
			// Keep submission order stable for rows inserted together.
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		})
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "site_id"}, {Name: "url"}},
			DoNothing: true,
		}).
		CreateInBatches(&models, 100)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

// Peek returns the oldest queued URLs without removing them.
func (r *GormQueuedURLRepo) Peek(ctx context.Context, siteID string, limit int) ([]domain.QueuedURL, error) {
	var models []QueuedURLModel
	err := r.db.WithContext(ctx).
		Where("site_id = ?", siteID).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	queued := make([]domain.QueuedURL, 0, len(models))
	for i := range models {
		queued = append(queued, *queuedURLModelToDomain(&models[i]))
	}
	return queued, nil
}

func (r *GormQueuedURLRepo) Count(ctx context.Context, siteID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&QueuedURLModel{}).
		Where("site_id = ?", siteID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
