package service

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
	"github.com/kursadbilgin/indexing-engine/internal/repository"
	"github.com/kursadbilgin/indexing-engine/internal/schedule"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSchedulerResync      = time.Minute
	defaultSchedulerConcurrency = 4
)

// SiteRunner executes one run for a site.
type SiteRunner interface {
	Run(ctx context.Context, siteID string, trigger domain.RunTrigger) (*RunResult, error)
}

// Scheduler keeps every enabled site ordered by nextRunAt and sleeps until the
// earliest one is due. The store stays authoritative: a due site is re-read
// and claimed before it runs, so several scheduler instances can share one
// database and a site fires at most once per nextRunAt.
type Scheduler struct {
	schedules   repository.ScheduleRepository
	runner      SiteRunner
	logger      *zap.Logger
	resync      time.Duration
	concurrency int
	now         func() time.Time

	mu     sync.Mutex
	queue  runQueue
	bySite map[string]*scheduledSite
	wake   chan struct{}
}

func NewScheduler(
	schedules repository.ScheduleRepository,
	runner SiteRunner,
	resync time.Duration,
	concurrency int,
	logger *zap.Logger,
) (*Scheduler, error) {
	if schedules == nil {
		return nil, fmt.Errorf("schedule repository is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("site runner is required")
	}
	if resync <= 0 {
		resync = defaultSchedulerResync
	}
	if concurrency < 1 {
		concurrency = defaultSchedulerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		schedules:   schedules,
		runner:      runner,
		logger:      logger,
		resync:      resync,
		concurrency: concurrency,
		now:         time.Now,
		bySite:      make(map[string]*scheduledSite),
		wake:        make(chan struct{}, 1),
	}, nil
}

// Reschedule updates the in-memory entry for cfg. Disabled configs are
// dropped.
func (s *Scheduler) Reschedule(cfg domain.ScheduleConfig) {
	s.mu.Lock()
	if cfg.Enabled {
		s.upsertLocked(cfg.SiteID, cfg.NextRunAt)
	} else {
		s.removeLocked(cfg.SiteID)
	}
	s.mu.Unlock()

	s.signal()
}

func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.resyncFromStore(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler initial sync failed", zap.Error(err))
	}

	var runs errgroup.Group
	runs.SetLimit(s.concurrency)

	resync := time.NewTicker(s.resync)
	defer resync.Stop()

	timer := time.NewTimer(s.resync)
	defer timer.Stop()

	for {
		timer.Reset(s.untilNext())

		select {
		case <-ctx.Done():
			_ = runs.Wait()
			return nil
		case <-s.wake:
		case <-resync.C:
			if err := s.resyncFromStore(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduler sync failed", zap.Error(err))
			}
		case <-timer.C:
			for _, siteID := range s.popDue(s.now().UTC()) {
				siteID := siteID
				runs.Go(func() error {
					s.runDue(ctx, siteID)
					return nil
				})
			}
		}
	}
}

// runDue claims and runs one site whose in-memory entry came due.
func (s *Scheduler) runDue(ctx context.Context, siteID string) {
	logger := s.logger.With(zap.String("siteId", siteID))

	cfg, err := s.schedules.Get(ctx, siteID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) && ctx.Err() == nil {
			logger.Error("failed to load due schedule", zap.Error(err))
		}
		return
	}
	if !cfg.Enabled {
		return
	}

	now := s.now().UTC()
	if !schedule.IsDue(*cfg, now) {
		s.Reschedule(*cfg)
		return
	}

	next := schedule.ComputeNextRun(*cfg, now)
	claimed, err := s.schedules.ClaimRun(ctx, siteID, cfg.NextRunAt, next, now)
	if err != nil {
		logger.Error("failed to claim scheduled run", zap.Error(err))
		s.requeue(siteID, now.Add(s.resync))
		return
	}

	cfg.NextRunAt = next
	s.Reschedule(*cfg)

	if !claimed {
		logger.Debug("scheduled run claimed elsewhere")
		return
	}

	if _, err := s.runner.Run(ctx, siteID, domain.TriggerSchedule); err != nil {
		logger.Error("scheduled run failed", zap.Error(err))
	}
}

// resyncFromStore replaces the in-memory order with the enabled configs in
// the store.
func (s *Scheduler) resyncFromStore(ctx context.Context) error {
	configs, err := s.schedules.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list enabled schedules: %w", err)
	}

	s.mu.Lock()
	seen := make(map[string]struct{}, len(configs))
	for _, cfg := range configs {
		seen[cfg.SiteID] = struct{}{}
		s.upsertLocked(cfg.SiteID, cfg.NextRunAt)
	}
	for siteID := range s.bySite {
		if _, ok := seen[siteID]; !ok {
			s.removeLocked(siteID)
		}
	}
	s.mu.Unlock()

	s.signal()
	return nil
}

func (s *Scheduler) requeue(siteID string, at time.Time) {
	s.mu.Lock()
	s.upsertLocked(siteID, at)
	s.mu.Unlock()
	s.signal()
}

// popDue removes and returns every site due at now.
func (s *Scheduler) popDue(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []string
	for s.queue.Len() > 0 && !s.queue[0].nextRunAt.After(now) {
		entry := heap.Pop(&s.queue).(*scheduledSite)
		delete(s.bySite, entry.siteID)
		due = append(due, entry.siteID)
	}
	return due
}

func (s *Scheduler) untilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.Len() == 0 {
		return s.resync
	}
	wait := s.queue[0].nextRunAt.Sub(s.now())
	if wait < 0 {
		return 0
	}
	if wait > s.resync {
		return s.resync
	}
	return wait
}

func (s *Scheduler) upsertLocked(siteID string, nextRunAt time.Time) {
	if entry, ok := s.bySite[siteID]; ok {
		entry.nextRunAt = nextRunAt
		heap.Fix(&s.queue, entry.index)
		return
	}

	entry := &scheduledSite{siteID: siteID, nextRunAt: nextRunAt}
	heap.Push(&s.queue, entry)
	s.bySite[siteID] = entry
}

func (s *Scheduler) removeLocked(siteID string) {
	entry, ok := s.bySite[siteID]
	if !ok {
		return
	}
	heap.Remove(&s.queue, entry.index)
	delete(s.bySite, siteID)
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pending returns the in-memory order, earliest first.
func (s *Scheduler) pending() []scheduledSite {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]scheduledSite, 0, s.queue.Len())
	for _, entry := range s.queue {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return runsBefore(out[i], out[j]) })
	return out
}

type scheduledSite struct {
	siteID    string
	nextRunAt time.Time
	index     int
}

func runsBefore(a scheduledSite, b scheduledSite) bool {
	if a.nextRunAt.Equal(b.nextRunAt) {
		return a.siteID < b.siteID
	}
	return a.nextRunAt.Before(b.nextRunAt)
}

// runQueue is a min-heap on nextRunAt.
type runQueue []*scheduledSite

func (q runQueue) Len() int { return len(q) }

func (q runQueue) Less(i, j int) bool { return runsBefore(*q[i], *q[j]) }

func (q runQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *runQueue) Push(x any) {
	entry := x.(*scheduledSite)
	entry.index = len(*q)
	*q = append(*q, entry)
}

func (q *runQueue) Pop() any {
	old := *q
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*q = old[:n-1]
	return entry
}
