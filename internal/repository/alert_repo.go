package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AlertRepository interface {
	ReplaceActive(ctx context.Context, evaluation domain.AlertEvaluation, alerts []*domain.Alert) error
	ListActive(ctx context.Context, siteID string) ([]domain.Alert, error)
	Resolve(ctx context.Context, siteID string, alertID string, at time.Time) (*domain.Alert, error)
	GetEvaluation(ctx context.Context, siteID string) (*domain.AlertEvaluation, error)
}

type GormAlertRepo struct {
	db *gorm.DB
}

func NewGormAlertRepo(db *gorm.DB) *GormAlertRepo {
	return &GormAlertRepo{db: db}
}

// ReplaceActive supersedes the site's active alerts with a fresh evaluation:
// still-active rows are resolved at evaluation time, the new alerts are
// inserted and the evaluation marker is upserted, all in one transaction.
func (r *GormAlertRepo) ReplaceActive(ctx context.Context, evaluation domain.AlertEvaluation, alerts []*domain.Alert) error {
	models := make([]AlertModel, 0, len(alerts))
	for _, a := range alerts {
		if model := alertModelFromDomain(a); model != nil {
			models = append(models, *model)
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&AlertModel{}).
			Where("site_id = ? AND resolved_at IS NULL", evaluation.SiteID).
			Update("resolved_at", evaluation.EvaluatedAt.UTC()).Error; err != nil {
			return err
		}

		if len(models) > 0 {
			if err := tx.CreateInBatches(&models, 100).Error; err != nil {
				return err
			}
		}

		marker := AlertEvaluationModel{
			SiteID:      evaluation.SiteID,
			EvaluatedAt: evaluation.EvaluatedAt.UTC(),
			Operational: evaluation.Operational,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "site_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"evaluated_at", "operational"}),
		}).Create(&marker).Error
	})
}

func (r *GormAlertRepo) ListActive(ctx context.Context, siteID string) ([]domain.Alert, error) {
	var models []AlertModel
	err := r.db.WithContext(ctx).
		Where("site_id = ? AND resolved_at IS NULL", siteID).
		Order("created_at DESC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	alerts := make([]domain.Alert, 0, len(models))
	for i := range models {
		alerts = append(alerts, *alertModelToDomain(&models[i]))
	}
	return alerts, nil
}

// Resolve marks an active alert as resolved by an operator. Resolving an
// alert twice is a conflict.
func (r *GormAlertRepo) Resolve(ctx context.Context, siteID string, alertID string, at time.Time) (*domain.Alert, error) {
	var model AlertModel
	err := r.db.WithContext(ctx).First(&model, "id = ? AND site_id = ?", alertID, siteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if model.ResolvedAt != nil {
		return nil, domain.ErrConflict
	}

	resolvedAt := at.UTC()
	result := r.db.WithContext(ctx).
		Model(&AlertModel{}).
		Where("id = ? AND resolved_at IS NULL", alertID).
		Update("resolved_at", resolvedAt)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrConflict
	}

	model.ResolvedAt = &resolvedAt
	return alertModelToDomain(&model), nil
}

func (r *GormAlertRepo) GetEvaluation(ctx context.Context, siteID string) (*domain.AlertEvaluation, error) {
	var model AlertEvaluationModel
	err := r.db.WithContext(ctx).First(&model, "site_id = ?", siteID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &domain.AlertEvaluation{
		SiteID:      model.SiteID,
		EvaluatedAt: model.EvaluatedAt.UTC(),
		Operational: model.Operational,
	}, nil
}
