package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/service"
)

type ScheduleService interface {
	Upsert(ctx context.Context, cfg domain.ScheduleConfig) (*domain.ScheduleConfig, error)
	Get(ctx context.Context, siteID string) (*domain.ScheduleConfig, error)
}

type RunService interface {
	Run(ctx context.Context, siteID string, trigger domain.RunTrigger) (*service.RunResult, error)
}

type URLService interface {
	Enqueue(ctx context.Context, siteID string, urls []string) (*service.EnqueueResult, error)
}

// SiteHandler serves a site's schedule, its backlog and manual runs.
type SiteHandler struct {
	schedules ScheduleService
	runs      RunService
	urls      URLService
}

func NewSiteHandler(schedules ScheduleService, runs RunService, urls URLService) (*SiteHandler, error) {
	if schedules == nil {
		return nil, fmt.Errorf("schedule service is required")
	}
	if runs == nil {
		return nil, fmt.Errorf("run service is required")
	}
	if urls == nil {
		return nil, fmt.Errorf("url service is required")
	}
	return &SiteHandler{schedules: schedules, runs: runs, urls: urls}, nil
}

type upsertScheduleRequest struct {
	Frequency            string `json:"frequency" validate:"required,oneof=hourly daily weekly custom"`
	IntervalHours        *int   `json:"intervalHours" validate:"omitempty,min=1"`
	SpecificDays         []int  `json:"specificDays" validate:"omitempty,dive,min=0,max=6"`
	SpecificTime         string `json:"specificTime" validate:"omitempty,len=5"`
	MaxURLsPerRun        int    `json:"maxUrlsPerRun" validate:"required,min=1"`
	DistributeAcrossDay  bool   `json:"distributeAcrossDay"`
	PauseOnQuotaExceeded bool   `json:"pauseOnQuotaExceeded"`
	Enabled              *bool  `json:"enabled"`
}

type enqueueURLsRequest struct {
	URLs []string `json:"urls" validate:"required,min=1,max=1000,dive,required"`
}

type scheduleResponse struct {
	SiteID               string     `json:"siteId"`
	Frequency            string     `json:"frequency"`
	IntervalHours        *int       `json:"intervalHours,omitempty"`
	SpecificDays         []int      `json:"specificDays,omitempty"`
	SpecificTime         string     `json:"specificTime,omitempty"`
	MaxURLsPerRun        int        `json:"maxUrlsPerRun"`
	DistributeAcrossDay  bool       `json:"distributeAcrossDay"`
	PauseOnQuotaExceeded bool       `json:"pauseOnQuotaExceeded"`
	Enabled              bool       `json:"enabled"`
	NextRunAt            time.Time  `json:"nextRunAt"`
	LastRunAt            *time.Time `json:"lastRunAt,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

type upsertScheduleResponse struct {
	Config    scheduleResponse `json:"config"`
	NextRunAt time.Time        `json:"nextRunAt"`
}

type runResponse struct {
	RunID       string                  `json:"runId"`
	SiteID      string                  `json:"siteId"`
	Trigger     string                  `json:"trigger"`
	Outcome     string                  `json:"outcome"`
	SkipReason  string                  `json:"skipReason,omitempty"`
	Budget      int                     `json:"budget"`
	Submitted   int                     `json:"submitted"`
	Deferred    int                     `json:"deferred"`
	Assignments []runAssignmentResponse `json:"assignments"`
	StartedAt   time.Time               `json:"startedAt"`
	FinishedAt  time.Time               `json:"finishedAt"`
}

type runAssignmentResponse struct {
	CredentialID string `json:"credentialId"`
	Submitted    int    `json:"submitted"`
}

type enqueueURLsResponse struct {
	Accepted   int `json:"accepted"`
	Duplicates int `json:"duplicates"`
}

func (h *SiteHandler) UpsertSchedule(c *fiber.Ctx) error {
	var req upsertScheduleRequest
	if err := parseBody(c, &req); err != nil {
		return toHTTPError(err)
	}

	saved, err := h.schedules.Upsert(c.Context(), requestToScheduleConfig(c.Params("siteId"), req))
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(upsertScheduleResponse{
		Config:    toScheduleResponse(saved),
		NextRunAt: saved.NextRunAt,
	})
}

func (h *SiteHandler) GetSchedule(c *fiber.Ctx) error {
	cfg, err := h.schedules.Get(c.Context(), c.Params("siteId"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toScheduleResponse(cfg))
}

// TriggerRun runs the site now. Quota and credential health still apply.
func (h *SiteHandler) TriggerRun(c *fiber.Ctx) error {
	result, err := h.runs.Run(c.Context(), c.Params("siteId"), domain.TriggerManual)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toRunResponse(result))
}

func (h *SiteHandler) EnqueueURLs(c *fiber.Ctx) error {
	var req enqueueURLsRequest
	if err := parseBody(c, &req); err != nil {
		return toHTTPError(err)
	}

	result, err := h.urls.Enqueue(c.Context(), c.Params("siteId"), req.URLs)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(enqueueURLsResponse{
		Accepted:   result.Accepted,
		Duplicates: result.Duplicates,
	})
}

func requestToScheduleConfig(siteID string, req upsertScheduleRequest) domain.ScheduleConfig {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	var days []time.Weekday
	if len(req.SpecificDays) > 0 {
		days = make([]time.Weekday, 0, len(req.SpecificDays))
		for _, d := range req.SpecificDays {
			days = append(days, time.Weekday(d))
		}
	}

	return domain.ScheduleConfig{
		SiteID:               siteID,
		Frequency:            domain.Frequency(req.Frequency),
		IntervalHours:        req.IntervalHours,
		SpecificDays:         days,
		SpecificTime:         req.SpecificTime,
		MaxURLsPerRun:        req.MaxURLsPerRun,
		DistributeAcrossDay:  req.DistributeAcrossDay,
		PauseOnQuotaExceeded: req.PauseOnQuotaExceeded,
		Enabled:              enabled,
	}
}

func toScheduleResponse(cfg *domain.ScheduleConfig) scheduleResponse {
	var days []int
	if len(cfg.SpecificDays) > 0 {
		days = make([]int, 0, len(cfg.SpecificDays))
		for _, d := range cfg.SpecificDays {
			days = append(days, int(d))
		}
	}

	return scheduleResponse{
		SiteID:               cfg.SiteID,
		Frequency:            cfg.Frequency.String(),
		IntervalHours:        cfg.IntervalHours,
		SpecificDays:         days,
		SpecificTime:         cfg.SpecificTime,
		MaxURLsPerRun:        cfg.MaxURLsPerRun,
		DistributeAcrossDay:  cfg.DistributeAcrossDay,
		PauseOnQuotaExceeded: cfg.PauseOnQuotaExceeded,
		Enabled:              cfg.Enabled,
		NextRunAt:            cfg.NextRunAt,
		LastRunAt:            cfg.LastRunAt,
		CreatedAt:            cfg.CreatedAt,
		UpdatedAt:            cfg.UpdatedAt,
	}
}

func toRunResponse(result *service.RunResult) runResponse {
	assignments := make([]runAssignmentResponse, 0, len(result.Assignments))
	for _, a := range result.Assignments {
		assignments = append(assignments, runAssignmentResponse{
			CredentialID: a.CredentialID,
			Submitted:    a.Submitted,
		})
	}

	return runResponse{
		RunID:       result.RunID,
		SiteID:      result.SiteID,
		Trigger:     result.Trigger.String(),
		Outcome:     string(result.Outcome),
		SkipReason:  result.SkipReason,
		Budget:      result.Budget,
		Submitted:   result.Submitted,
		Deferred:    result.Deferred,
		Assignments: assignments,
		StartedAt:   result.StartedAt,
		FinishedAt:  result.FinishedAt,
	}
}
