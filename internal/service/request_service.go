package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/repository"
	"github.com/kursadbilgin/indexing-engine/internal/retry"
)

// RequestView is a request with its derived retry badge.
type RequestView struct {
	Request domain.IndexingRequest
	Badge   retry.Badge
}

type RequestService struct {
	requests repository.IndexingRequestRepository
}

func NewRequestService(requests repository.IndexingRequestRepository) (*RequestService, error) {
	if requests == nil {
		return nil, fmt.Errorf("indexing request repository is required")
	}
	return &RequestService{requests: requests}, nil
}

func (s *RequestService) Get(ctx context.Context, id string) (*RequestView, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: request id is required", domain.ErrValidation)
	}

	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &RequestView{Request: *req, Badge: retry.StatusOf(*req)}, nil
}
