package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"go.uber.org/zap"
)

type fakeRescheduler struct {
	got []domain.ScheduleConfig
}

func (f *fakeRescheduler) Reschedule(cfg domain.ScheduleConfig) {
	f.got = append(f.got, cfg)
}

func TestScheduleServiceUpsertComputesNextRun(t *testing.T) {
	t.Parallel()

	var stored *domain.ScheduleConfig
	schedules := &fakeScheduleRepo{
		upsertFn: func(ctx context.Context, c *domain.ScheduleConfig) error {
			copied := *c
			stored = &copied
			return nil
		},
	}
	rescheduler := &fakeRescheduler{}

	svc, err := NewScheduleService(schedules, rescheduler, zap.NewNop())
	if err != nil {
		t.Fatalf("NewScheduleService() error = %v", err)
	}
	svc.now = nowAt(fixedNow)

	got, err := svc.Upsert(context.Background(), domain.ScheduleConfig{
		SiteID:        " site-1 ",
		Frequency:     domain.FrequencyDaily,
		SpecificTime:  "08:00",
		MaxURLsPerRun: 50,
		Enabled:       true,
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	wantNext := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	if !got.NextRunAt.Equal(wantNext) {
		t.Fatalf("NextRunAt = %s, want %s", got.NextRunAt, wantNext)
	}
	if stored == nil || stored.SiteID != "site-1" || !stored.NextRunAt.Equal(wantNext) {
		t.Fatalf("stored = %+v, want site-1 at %s", stored, wantNext)
	}
	if len(rescheduler.got) != 1 || rescheduler.got[0].SiteID != "site-1" {
		t.Fatalf("rescheduled = %+v, want site-1", rescheduler.got)
	}
}

func TestScheduleServiceUpsertRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	schedules := &fakeScheduleRepo{
		upsertFn: func(ctx context.Context, c *domain.ScheduleConfig) error {
			t.Fatal("Upsert should not reach the store")
			return nil
		},
	}

	svc, err := NewScheduleService(schedules, nil, nil)
	if err != nil {
		t.Fatalf("NewScheduleService() error = %v", err)
	}

	_, err = svc.Upsert(context.Background(), domain.ScheduleConfig{
		SiteID:        "site-1",
		Frequency:     domain.FrequencyCustom,
		MaxURLsPerRun: 10,
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Upsert() error = %v, want ErrValidation", err)
	}
}

func TestScheduleServiceGet(t *testing.T) {
	t.Parallel()

	svc, err := NewScheduleService(&fakeScheduleRepo{}, nil, nil)
	if err != nil {
		t.Fatalf("NewScheduleService() error = %v", err)
	}

	if _, err := svc.Get(context.Background(), ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Get(\"\") error = %v, want ErrValidation", err)
	}
	if _, err := svc.Get(context.Background(), "site-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}
