package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/repository"
	"go.uber.org/zap"
)

const maxEnqueueBatch = 1000

// EnqueueResult reports how many URLs joined the backlog. Duplicates covers
// repeats inside the batch and URLs already queued for the site.
type EnqueueResult struct {
	Accepted   int
	Duplicates int
}

// URLService feeds a site's backlog. Runs drain it in insertion order.
type URLService struct {
	queued repository.QueuedURLRepository
	logger *zap.Logger
}

func NewURLService(queued repository.QueuedURLRepository, logger *zap.Logger) (*URLService, error) {
	if queued == nil {
		return nil, fmt.Errorf("queued url repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &URLService{queued: queued, logger: logger}, nil
}

func (s *URLService) Enqueue(ctx context.Context, siteID string, urls []string) (*EnqueueResult, error) {
	siteID = strings.TrimSpace(siteID)
	if siteID == "" {
		return nil, fmt.Errorf("%w: siteId is required", domain.ErrValidation)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: at least one url is required", domain.ErrValidation)
	}
	if len(urls) > maxEnqueueBatch {
		return nil, fmt.Errorf("%w: at most %d urls per request", domain.ErrValidation, maxEnqueueBatch)
	}

	seen := make(map[string]struct{}, len(urls))
	unique := make([]string, 0, len(urls))
	for i, raw := range urls {
		u := strings.TrimSpace(raw)
		if err := domain.ValidateURL(u); err != nil {
			return nil, fmt.Errorf("urls[%d]: %w", i, err)
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		unique = append(unique, u)
	}

	accepted, err := s.queued.Enqueue(ctx, siteID, unique)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue urls for site %s: %w", siteID, err)
	}

	result := &EnqueueResult{
		Accepted:   accepted,
		Duplicates: len(urls) - accepted,
	}
	s.logger.Info("urls enqueued",
		zap.String("siteId", siteID),
		zap.Int("accepted", result.Accepted),
		zap.Int("duplicates", result.Duplicates),
	)
	return result, nil
}
