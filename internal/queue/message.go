package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
)

// IndexingMessage is the broker payload for one URL submission.
type IndexingMessage struct {
	RequestID    string            `json:"requestId"`
	CredentialID string            `json:"credentialId"`
	SiteID       string            `json:"siteId"`
	URL          string            `json:"url"`
	RunID        string            `json:"runId,omitempty"`
	Trigger      domain.RunTrigger `json:"trigger"`
}

func (m IndexingMessage) Validate() error {
	if strings.TrimSpace(m.RequestID) == "" {
		return fmt.Errorf("requestId is required")
	}
	if strings.TrimSpace(m.CredentialID) == "" {
		return fmt.Errorf("credentialId is required")
	}
	if strings.TrimSpace(m.URL) == "" {
		return fmt.Errorf("url is required")
	}
	if !m.Trigger.IsValid() {
		return fmt.Errorf("invalid trigger %q", m.Trigger)
	}
	return nil
}

// NewIndexingMessage builds the message for a persisted request.
func NewIndexingMessage(req domain.IndexingRequest, trigger domain.RunTrigger, runID string) IndexingMessage {
	return IndexingMessage{
		RequestID:    req.ID,
		CredentialID: req.CredentialID,
		SiteID:       req.SiteID,
		URL:          req.URL,
		RunID:        runID,
		Trigger:      trigger,
	}
}
