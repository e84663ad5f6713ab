package repository

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
)

// CredentialModel is the persistence model for the credentials table.
type CredentialModel struct {
	ID                  string              `gorm:"type:uuid;primaryKey"`
	SiteID              string              `gorm:"type:varchar(64);not null;index"`
	Name                string              `gorm:"type:varchar(255);not null"`
	HealthStatus        domain.HealthStatus `gorm:"type:varchar(16);not null"`
	ConsecutiveFailures int                 `gorm:"not null;default:0"`
	CooldownUntil       *time.Time
	LastError           *string             `gorm:"type:text"`
	LastErrorReason     *domain.RetryReason `gorm:"type:varchar(32)"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (CredentialModel) TableName() string {
	return "credentials"
}

// IndexingRequestModel is the persistence model for indexing_requests.
type IndexingRequestModel struct {
	ID           string               `gorm:"type:uuid;primaryKey"`
	CredentialID string               `gorm:"type:uuid;not null"`
	SiteID       string               `gorm:"type:varchar(64);not null"`
	URL          string               `gorm:"type:text;not null"`
	Status       domain.RequestStatus `gorm:"type:varchar(16);not null"`
	SubmittedAt  time.Time            `gorm:"not null"`
	CompletedAt  *time.Time
	RetryCount   int                  `gorm:"not null;default:0"`
	NextRetryAt  *time.Time
	RetryReason  *domain.RetryReason  `gorm:"type:varchar(32)"`
	LastError    *string              `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (IndexingRequestModel) TableName() string {
	return "indexing_requests"
}

// ScheduleConfigModel is the persistence model for schedule_configs. Weekdays
// are stored as a comma separated list, e.g. "1,3,5".
type ScheduleConfigModel struct {
	SiteID               string           `gorm:"type:varchar(64);primaryKey"`
	Frequency            domain.Frequency `gorm:"type:varchar(16);not null"`
	IntervalHours        *int             `gorm:"type:int"`
	SpecificDays         string           `gorm:"type:varchar(32);not null"`
	SpecificTime         string           `gorm:"type:varchar(5);not null"`
	MaxURLsPerRun        int              `gorm:"column:max_urls_per_run;not null"`
	DistributeAcrossDay  bool             `gorm:"not null"`
	PauseOnQuotaExceeded bool             `gorm:"not null"`
	Enabled              bool             `gorm:"not null"`
	NextRunAt            time.Time        `gorm:"not null"`
	LastRunAt            *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (ScheduleConfigModel) TableName() string {
	return "schedule_configs"
}

// QueuedURLModel is the persistence model for queued_urls.
type QueuedURLModel struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	SiteID    string `gorm:"type:varchar(64);not null"`
	URL       string `gorm:"type:text;not null"`
	CreatedAt time.Time
}

func (QueuedURLModel) TableName() string {
	return "queued_urls"
}

// AlertModel is the persistence model for alerts.
type AlertModel struct {
	ID           string           `gorm:"type:uuid;primaryKey"`
	SiteID       string           `gorm:"type:varchar(64);not null"`
	Type         domain.AlertType `gorm:"type:varchar(48);not null"`
	Severity     domain.Severity  `gorm:"type:varchar(16);not null"`
	Message      string           `gorm:"type:text;not null"`
	CredentialID *string          `gorm:"type:uuid"`
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

func (AlertModel) TableName() string {
	return "alerts"
}

// AlertEvaluationModel is the persistence model for alert_evaluations.
type AlertEvaluationModel struct {
	SiteID      string    `gorm:"type:varchar(64);primaryKey"`
	EvaluatedAt time.Time `gorm:"not null"`
	Operational bool      `gorm:"not null"`
}

func (AlertEvaluationModel) TableName() string {
	return "alert_evaluations"
}

func credentialModelFromDomain(c *domain.Credential) *CredentialModel {
	if c == nil {
		return nil
	}

	return &CredentialModel{
		ID:                  c.ID,
		SiteID:              c.SiteID,
		Name:                c.Name,
		HealthStatus:        c.HealthStatus,
		ConsecutiveFailures: c.ConsecutiveFailures,
		CooldownUntil:       c.CooldownUntil,
		LastError:           c.LastError,
		LastErrorReason:     c.LastErrorReason,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
}

func credentialModelToDomain(m *CredentialModel) *domain.Credential {
	if m == nil {
		return nil
	}

	return &domain.Credential{
		ID:                  m.ID,
		SiteID:              m.SiteID,
		Name:                m.Name,
		HealthStatus:        m.HealthStatus,
		ConsecutiveFailures: m.ConsecutiveFailures,
		CooldownUntil:       utcPtr(m.CooldownUntil),
		LastError:           m.LastError,
		LastErrorReason:     m.LastErrorReason,
		CreatedAt:           m.CreatedAt.UTC(),
		UpdatedAt:           m.UpdatedAt.UTC(),
	}
}

func requestModelFromDomain(r *domain.IndexingRequest) *IndexingRequestModel {
	if r == nil {
		return nil
	}

	return &IndexingRequestModel{
		ID:           r.ID,
		CredentialID: r.CredentialID,
		SiteID:       r.SiteID,
		URL:          r.URL,
		Status:       r.Status,
		SubmittedAt:  r.SubmittedAt,
		CompletedAt:  r.CompletedAt,
		RetryCount:   r.RetryCount,
		NextRetryAt:  r.NextRetryAt,
		RetryReason:  r.RetryReason,
		LastError:    r.LastError,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func requestModelToDomain(m *IndexingRequestModel) *domain.IndexingRequest {
	if m == nil {
		return nil
	}

	return &domain.IndexingRequest{
		ID:           m.ID,
		CredentialID: m.CredentialID,
		SiteID:       m.SiteID,
		URL:          m.URL,
		Status:       m.Status,
		SubmittedAt:  m.SubmittedAt.UTC(),
		CompletedAt:  utcPtr(m.CompletedAt),
		RetryCount:   m.RetryCount,
		NextRetryAt:  utcPtr(m.NextRetryAt),
		RetryReason:  m.RetryReason,
		LastError:    m.LastError,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

func scheduleModelFromDomain(c *domain.ScheduleConfig) *ScheduleConfigModel {
	if c == nil {
		return nil
	}

	return &ScheduleConfigModel{
		SiteID:               c.SiteID,
		Frequency:            c.Frequency,
		IntervalHours:        c.IntervalHours,
		SpecificDays:         encodeWeekdays(c.SpecificDays),
		SpecificTime:         c.SpecificTime,
		MaxURLsPerRun:        c.MaxURLsPerRun,
		DistributeAcrossDay:  c.DistributeAcrossDay,
		PauseOnQuotaExceeded: c.PauseOnQuotaExceeded,
		Enabled:              c.Enabled,
		NextRunAt:            storedInstant(c.NextRunAt),
		LastRunAt:            c.LastRunAt,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
}

func scheduleModelToDomain(m *ScheduleConfigModel) *domain.ScheduleConfig {
	if m == nil {
		return nil
	}

	return &domain.ScheduleConfig{
		SiteID:               m.SiteID,
		Frequency:            m.Frequency,
		IntervalHours:        m.IntervalHours,
		SpecificDays:         decodeWeekdays(m.SpecificDays),
		SpecificTime:         m.SpecificTime,
		MaxURLsPerRun:        m.MaxURLsPerRun,
		DistributeAcrossDay:  m.DistributeAcrossDay,
		PauseOnQuotaExceeded: m.PauseOnQuotaExceeded,
		Enabled:              m.Enabled,
		NextRunAt:            m.NextRunAt.UTC(),
		LastRunAt:            utcPtr(m.LastRunAt),
		CreatedAt:            m.CreatedAt.UTC(),
		UpdatedAt:            m.UpdatedAt.UTC(),
	}
}

func queuedURLModelToDomain(m *QueuedURLModel) *domain.QueuedURL {
	if m == nil {
		return nil
	}

	return &domain.QueuedURL{
		ID:        m.ID,
		SiteID:    m.SiteID,
		URL:       m.URL,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func alertModelFromDomain(a *domain.Alert) *AlertModel {
	if a == nil {
		return nil
	}

	return &AlertModel{
		ID:           a.ID,
		SiteID:       a.SiteID,
		Type:         a.Type,
		Severity:     a.Severity,
		Message:      a.Message,
		CredentialID: a.CredentialID,
		CreatedAt:    a.CreatedAt,
		ResolvedAt:   a.ResolvedAt,
	}
}

func alertModelToDomain(m *AlertModel) *domain.Alert {
	if m == nil {
		return nil
	}

	return &domain.Alert{
		ID:           m.ID,
		SiteID:       m.SiteID,
		Type:         m.Type,
		Severity:     m.Severity,
		Message:      m.Message,
		CredentialID: m.CredentialID,
		CreatedAt:    m.CreatedAt.UTC(),
		ResolvedAt:   utcPtr(m.ResolvedAt),
	}
}

func encodeWeekdays(days []time.Weekday) string {
	if len(days) == 0 {
		return ""
	}

	sorted := append([]time.Weekday(nil), days...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, 0, len(sorted))
	for _, d := range sorted {
		parts = append(parts, strconv.Itoa(int(d)))
	}
	return strings.Join(parts, ",")
}

func decodeWeekdays(raw string) []time.Weekday {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	days := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 6 {
			continue
		}
		days = append(days, time.Weekday(n))
	}
	return days
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
