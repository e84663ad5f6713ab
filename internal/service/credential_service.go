package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/quota"
	"github.com/kursadbilgin/indexing-engine/internal/repository"
	"go.uber.org/zap"
)

// CredentialView is a credential with today's quota usage.
type CredentialView struct {
	Credential domain.Credential
	Usage      quota.Usage
}

type CredentialService struct {
	credentials repository.CredentialRepository
	quota       *quota.Tracker
	logger      *zap.Logger
	now         func() time.Time
}

func NewCredentialService(
	credentials repository.CredentialRepository,
	tracker *quota.Tracker,
	logger *zap.Logger,
) (*CredentialService, error) {
	if credentials == nil {
		return nil, fmt.Errorf("credential repository is required")
	}
	if tracker == nil {
		return nil, fmt.Errorf("quota tracker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CredentialService{
		credentials: credentials,
		quota:       tracker,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Create registers a healthy credential for siteID.
func (s *CredentialService) Create(ctx context.Context, siteID string, name string) (*domain.Credential, error) {
	now := s.now().UTC()
	credential := &domain.Credential{
		ID:           uuid.NewString(),
		SiteID:       strings.TrimSpace(siteID),
		Name:         strings.TrimSpace(name),
		HealthStatus: domain.HealthHealthy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := credential.Validate(); err != nil {
		return nil, err
	}

	if err := s.credentials.Create(ctx, credential); err != nil {
		return nil, fmt.Errorf("failed to create credential: %w", err)
	}

	s.logger.Info("credential registered",
		zap.String("siteId", credential.SiteID),
		zap.String("credentialId", credential.ID),
	)
	return credential, nil
}

func (s *CredentialService) ListWithQuota(ctx context.Context, siteID string) ([]CredentialView, error) {
	siteID = strings.TrimSpace(siteID)
	if siteID == "" {
		return nil, fmt.Errorf("%w: siteId is required", domain.ErrValidation)
	}

	credentials, err := s.credentials.ListBySite(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials for site %s: %w", siteID, err)
	}

	views := make([]CredentialView, 0, len(credentials))
	for _, c := range credentials {
		usage, err := s.quota.Remaining(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, CredentialView{Credential: c, Usage: usage})
	}
	return views, nil
}

// Quota returns today's usage for an existing credential.
func (s *CredentialService) Quota(ctx context.Context, credentialID string) (*quota.Usage, error) {
	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		return nil, fmt.Errorf("%w: credentialId is required", domain.ErrValidation)
	}

	if _, err := s.credentials.GetCredential(ctx, credentialID); err != nil {
		return nil, err
	}

	usage, err := s.quota.Remaining(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	return &usage, nil
}
