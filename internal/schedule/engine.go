// Package schedule turns recurrence settings into concrete run times.
//
// Every function here is pure: the same (config, now) always yields the same
// result, and all arithmetic is done in UTC so a quota day and a schedule day
// share the same boundary.
package schedule

import (
	"time"

	"github.com/kursadbilgin/indexing-engine/internal/domain"
)

// FallbackInterval applies when a config cannot be interpreted.
const FallbackInterval = 24 * time.Hour

const maxRunsPerDay = 24 * 60

// ComputeNextRun returns the first run instant strictly after now.
func ComputeNextRun(cfg domain.ScheduleConfig, now time.Time) time.Time {
	now = now.UTC()

	switch cfg.Frequency {
	case domain.FrequencyHourly:
		return now.Truncate(time.Hour).Add(time.Hour)

	case domain.FrequencyDaily:
		hour, minute, err := domain.ParseClock(cfg.SpecificTime)
		if err != nil {
			return now.Add(FallbackInterval)
		}
		candidate := atClock(now, hour, minute)
		if !candidate.After(now) {
			candidate = candidate.AddDate(0, 0, 1)
		}
		return candidate

	case domain.FrequencyWeekly:
		hour, minute, err := domain.ParseClock(cfg.SpecificTime)
		if err != nil {
			return now.Add(FallbackInterval)
		}
		return nextWeekly(cfg.SpecificDays, hour, minute, now)

	case domain.FrequencyCustom:
		if cfg.IntervalHours == nil || *cfg.IntervalHours < 1 {
			return now.Add(FallbackInterval)
		}
		return now.Add(time.Duration(*cfg.IntervalHours) * time.Hour)
	}

	return now.Add(FallbackInterval)
}

// nextWeekly walks forward from today. Today only qualifies while its run time
// is still ahead; offset 7 is the same weekday next week.
func nextWeekly(days []time.Weekday, hour int, minute int, now time.Time) time.Time {
	var allowed [7]bool
	found := false
	for _, d := range days {
		if d < time.Sunday || d > time.Saturday {
			continue
		}
		allowed[d] = true
		found = true
	}
	if !found {
		return now.Add(FallbackInterval)
	}

	todayAt := atClock(now, hour, minute)
	for offset := 0; offset <= 7; offset++ {
		day := (int(now.Weekday()) + offset) % 7
		if !allowed[day] {
			continue
		}
		candidate := todayAt.AddDate(0, 0, offset)
		if candidate.After(now) {
			return candidate
		}
	}

	return now.Add(FallbackInterval)
}

// IsDue reports whether an enabled schedule should fire at now.
func IsDue(cfg domain.ScheduleConfig, now time.Time) bool {
	return cfg.Enabled && !cfg.NextRunAt.After(now)
}

// DayStart returns 00:00 UTC of the day containing t.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextDayStart returns 00:00 UTC of the day after t.
func NextDayStart(t time.Time) time.Time {
	return DayStart(t).AddDate(0, 0, 1)
}

// RunsLeftToday counts the run at now plus every later run the config would
// fire before the next UTC midnight.
func RunsLeftToday(cfg domain.ScheduleConfig, now time.Time) int {
	end := NextDayStart(now)
	runs := 1
	cursor := now.UTC()
	for runs < maxRunsPerDay {
		next := ComputeNextRun(cfg, cursor)
		if !next.Before(end) {
			break
		}
		runs++
		cursor = next
	}
	return runs
}

// RunBudget returns how many URLs a run at now may submit given the quota
// still available today across the site's usable credentials.
func RunBudget(cfg domain.ScheduleConfig, now time.Time, remainingQuota int) int {
	if remainingQuota <= 0 {
		return 0
	}

	budget := cfg.MaxURLsPerRun
	if cfg.DistributeAcrossDay {
		runs := RunsLeftToday(cfg, now)
		share := (remainingQuota + runs - 1) / runs
		if budget <= 0 || share < budget {
			budget = share
		}
	}

	return budget
}

func atClock(day time.Time, hour int, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, time.UTC)
}
