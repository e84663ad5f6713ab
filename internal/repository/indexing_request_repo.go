package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"gorm.io/gorm"
)

// SiteRequestStats aggregates a site's requests for alert evaluation.
type SiteRequestStats struct {
	Pending         int
	WindowTotal     int
	WindowFailed    int
	WindowExhausted int
}

type IndexingRequestRepository interface {
	RecordSubmissions(ctx context.Context, requests []*domain.IndexingRequest, queuedIDs []string) error
	GetByID(ctx context.Context, id string) (*domain.IndexingRequest, error)
	CountSubmittedSince(ctx context.Context, credentialID string, since time.Time) (int, error)
	Save(ctx context.Context, r *domain.IndexingRequest) error
	GetDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.IndexingRequest, error)
	SiteStats(ctx context.Context, siteID string, since time.Time) (SiteRequestStats, error)
}

type GormIndexingRequestRepo struct {
	db *gorm.DB
}

func NewGormIndexingRequestRepo(db *gorm.DB) *GormIndexingRequestRepo {
	return &GormIndexingRequestRepo{db: db}
}

// RecordSubmissions claims the backlog rows by deleting them and inserts the
// new pending requests in one transaction. If another run already claimed any
// of the rows nothing is written and ErrConflict is returned.
func (r *GormIndexingRequestRepo) RecordSubmissions(
	ctx context.Context,
	requests []*domain.IndexingRequest,
	queuedIDs []string,
) error {
	models := make([]IndexingRequestModel, 0, len(requests))
	modelIndexes := make([]int, 0, len(requests))
	for i, req := range requests {
		model := requestModelFromDomain(req)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 && len(queuedIDs) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(queuedIDs) > 0 {
			claim := tx.Where("id IN ?", queuedIDs).Delete(&QueuedURLModel{})
			if claim.Error != nil {
				return claim.Error
			}
			if claim.RowsAffected != int64(len(queuedIDs)) {
				return fmt.Errorf("%w: %d of %d backlog urls already claimed",
					domain.ErrConflict, int64(len(queuedIDs))-claim.RowsAffected, len(queuedIDs))
			}
		}
		if len(models) > 0 {
			if err := tx.CreateInBatches(&models, 100).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(requests) && requests[idx] != nil {
			*requests[idx] = *requestModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormIndexingRequestRepo) GetByID(ctx context.Context, id string) (*domain.IndexingRequest, error) {
	var model IndexingRequestModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return requestModelToDomain(&model), nil
}

// CountSubmittedSince is the derived quota usage of a credential.
func (r *GormIndexingRequestRepo) CountSubmittedSince(ctx context.Context, credentialID string, since time.Time) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&IndexingRequestModel{}).
		Where("credential_id = ? AND submitted_at >= ?", credentialID, since.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// Save updates the lifecycle and retry fields of an existing request in place.
func (r *GormIndexingRequestRepo) Save(ctx context.Context, req *domain.IndexingRequest) error {
	if req == nil {
		return domain.ErrValidation
	}

	result := r.db.WithContext(ctx).
		Model(&IndexingRequestModel{}).
		Where("id = ?", req.ID).
		Updates(map[string]any{
			"status":        req.Status,
			"submitted_at":  req.SubmittedAt,
			"completed_at":  req.CompletedAt,
			"retry_count":   req.RetryCount,
			"next_retry_at": req.NextRetryAt,
			"retry_reason":  req.RetryReason,
			"last_error":    req.LastError,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormIndexingRequestRepo) GetDueForRetry(ctx context.Context, now time.Time, limit int) ([]domain.IndexingRequest, error) {
	var models []IndexingRequestModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", domain.RequestPending, now.UTC()).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	requests := make([]domain.IndexingRequest, 0, len(models))
	for i := range models {
		requests = append(requests, *requestModelToDomain(&models[i]))
	}

	return requests, nil
}

// SiteStats counts all pending requests of a site plus the requests submitted
// since the start of the trailing window.
func (r *GormIndexingRequestRepo) SiteStats(ctx context.Context, siteID string, since time.Time) (SiteRequestStats, error) {
	var stats SiteRequestStats

	var pending int64
	if err := r.db.WithContext(ctx).
		Model(&IndexingRequestModel{}).
		Where("site_id = ? AND status = ?", siteID, domain.RequestPending).
		Count(&pending).Error; err != nil {
		return stats, err
	}

	var window struct {
		Total     int64
		Failed    int64
		Exhausted int64
	}
	err := r.db.WithContext(ctx).
		Model(&IndexingRequestModel{}).
		Select(
			"COUNT(*) AS total, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed, "+
				"COALESCE(SUM(CASE WHEN status = ? AND retry_count >= ? THEN 1 ELSE 0 END), 0) AS exhausted",
			domain.RequestFailed, domain.RequestFailed, domain.MaxRetries,
		).
		Where("site_id = ? AND submitted_at >= ?", siteID, since.UTC()).
		Scan(&window).Error
	if err != nil {
		return stats, err
	}

	stats.Pending = int(pending)
	stats.WindowTotal = int(window.Total)
	stats.WindowFailed = int(window.Failed)
	stats.WindowExhausted = int(window.Exhausted)
	return stats, nil
}
