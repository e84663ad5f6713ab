package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"gorm.io/gorm"
)

type CredentialRepository interface {
	Create(ctx context.Context, c *domain.Credential) error
	GetCredential(ctx context.Context, id string) (*domain.Credential, error)
	ListBySite(ctx context.Context, siteID string) ([]domain.Credential, error)
	ListSiteIDs(ctx context.Context) ([]string, error)
	UpdateCredentialHealth(ctx context.Context, c *domain.Credential) error
	ListCooledDownCredentials(ctx context.Context, now time.Time, limit int) ([]domain.Credential, error)
}

type GormCredentialRepo struct {
	db *gorm.DB
}

func NewGormCredentialRepo(db *gorm.DB) *GormCredentialRepo {
	return &GormCredentialRepo{db: db}
}

func (r *GormCredentialRepo) Create(ctx context.Context, c *domain.Credential) error {
	model := credentialModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if c != nil {
		*c = *credentialModelToDomain(model)
	}
	return nil
}

func (r *GormCredentialRepo) GetCredential(ctx context.Context, id string) (*domain.Credential, error) {
	var model CredentialModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return credentialModelToDomain(&model), nil
}

func (r *GormCredentialRepo) ListBySite(ctx context.Context, siteID string) ([]domain.Credential, error) {
	var models []CredentialModel
	err := r.db.WithContext(ctx).
		Where("site_id = ?", siteID).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return credentialsToDomain(models), nil
}

func (r *GormCredentialRepo) ListSiteIDs(ctx context.Context) ([]string, error) {
	var siteIDs []string
	err := r.db.WithContext(ctx).
		Model(&CredentialModel{}).
		Distinct("site_id").
		Order("site_id ASC").
		Pluck("site_id", &siteIDs).Error
	if err != nil {
		return nil, err
	}
	return siteIDs, nil
}

// UpdateCredentialHealth writes the circuit breaker fields only.
func (r *GormCredentialRepo) UpdateCredentialHealth(ctx context.Context, c *domain.Credential) error {
	if c == nil {
		return domain.ErrValidation
	}

	result := r.db.WithContext(ctx).
		Model(&CredentialModel{}).
		Where("id = ?", c.ID).
		Updates(map[string]any{
			"health_status":        c.HealthStatus,
			"consecutive_failures": c.ConsecutiveFailures,
			"cooldown_until":       c.CooldownUntil,
			"last_error":           c.LastError,
			"last_error_reason":    c.LastErrorReason,
			"updated_at":           time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListCooledDownCredentials returns unhealthy credentials whose cooldown ended
// strictly before now.
func (r *GormCredentialRepo) ListCooledDownCredentials(ctx context.Context, now time.Time, limit int) ([]domain.Credential, error) {
	var models []CredentialModel
	err := r.db.WithContext(ctx).
		Where("health_status = ? AND cooldown_until < ?", domain.HealthUnhealthy, now.UTC()).
		Order("cooldown_until ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return credentialsToDomain(models), nil
}

func credentialsToDomain(models []CredentialModel) []domain.Credential {
	credentials := make([]domain.Credential, 0, len(models))
	for i := range models {
		credentials = append(credentials, *credentialModelToDomain(&models[i]))
	}
	return credentials
}
