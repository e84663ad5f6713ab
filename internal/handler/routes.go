package handler

import (
	"github.com/gofiber/fiber/v2"
)

// Services groups what the /v1 API is served from.
type Services struct {
	Schedules   ScheduleService
	Runs        RunService
	URLs        URLService
	Credentials CredentialService
	Alerts      AlertService
	Requests    RequestService
}

func RegisterIndexingRoutes(router fiber.Router, services Services) error {
	sites, err := NewSiteHandler(services.Schedules, services.Runs, services.URLs)
	if err != nil {
		return err
	}
	credentials, err := NewCredentialHandler(services.Credentials)
	if err != nil {
		return err
	}
	alerts, err := NewAlertHandler(services.Alerts)
	if err != nil {
		return err
	}
	requests, err := NewRequestHandler(services.Requests)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/sites/:siteId/schedule", sites.UpsertSchedule)
	v1.Get("/sites/:siteId/schedule", sites.GetSchedule)
	v1.Post("/sites/:siteId/run", sites.TriggerRun)
	v1.Post("/sites/:siteId/urls", sites.EnqueueURLs)
	v1.Post("/sites/:siteId/credentials", credentials.CreateCredential)
	v1.Get("/sites/:siteId/credentials", credentials.ListCredentials)
	v1.Get("/credentials/:id/quota", credentials.GetQuota)
	v1.Get("/sites/:siteId/alerts", alerts.GetSiteAlerts)
	v1.Post("/sites/:siteId/alerts/:alertId/resolve", alerts.ResolveAlert)
	v1.Get("/requests/:id", requests.GetRequest)

	return nil
}
