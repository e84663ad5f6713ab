package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Frequency is the recurrence kind of a site's indexing schedule.
type Frequency string

const (
	FrequencyHourly Frequency = "hourly"
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
	FrequencyCustom Frequency = "custom"
)

func (f Frequency) String() string { return string(f) }

func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyCustom:
		return true
	}
	return false
}

func ParseFrequencyFromString(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("%w: invalid frequency %q", ErrValidation, s)
	}
	return f, nil
}

const DefaultSpecificTime = "00:00"

// ScheduleConfig describes when and how much a site submits.
type ScheduleConfig struct {
	SiteID               string
	Frequency            Frequency
	IntervalHours        *int
	SpecificDays         []time.Weekday
	SpecificTime         string
	MaxURLsPerRun        int
	DistributeAcrossDay  bool
	PauseOnQuotaExceeded bool
	Enabled              bool
	NextRunAt            time.Time
	LastRunAt            *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (c *ScheduleConfig) Validate() error {
	if strings.TrimSpace(c.SiteID) == "" {
		return fmt.Errorf("%w: siteId is required", ErrValidation)
	}
	if !c.Frequency.IsValid() {
		return fmt.Errorf("%w: invalid frequency %q", ErrValidation, c.Frequency)
	}
	if c.MaxURLsPerRun < 1 {
		return fmt.Errorf("%w: maxUrlsPerRun must be >= 1", ErrValidation)
	}

	switch c.Frequency {
	case FrequencyCustom:
		if c.IntervalHours == nil || *c.IntervalHours < 1 {
			return fmt.Errorf("%w: custom frequency requires intervalHours >= 1", ErrValidation)
		}
	case FrequencyWeekly:
		if len(c.SpecificDays) == 0 {
			return fmt.Errorf("%w: weekly frequency requires specificDays", ErrValidation)
		}
		for _, d := range c.SpecificDays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("%w: specificDays entries must be between 0 and 6", ErrValidation)
			}
		}
		if _, _, err := ParseClock(c.SpecificTime); err != nil {
			return err
		}
	case FrequencyDaily:
		if _, _, err := ParseClock(c.SpecificTime); err != nil {
			return err
		}
	}

	return nil
}

// Normalize keeps only the fields meaningful for the configured frequency.
func (c *ScheduleConfig) Normalize() {
	c.SiteID = strings.TrimSpace(c.SiteID)
	c.SpecificTime = strings.TrimSpace(c.SpecificTime)

	switch c.Frequency {
	case FrequencyHourly:
		c.IntervalHours = nil
		c.SpecificDays = nil
		c.SpecificTime = ""
	case FrequencyDaily:
		c.IntervalHours = nil
		c.SpecificDays = nil
	case FrequencyWeekly:
		c.IntervalHours = nil
		c.SpecificDays = uniqueWeekdays(c.SpecificDays)
	case FrequencyCustom:
		c.SpecificDays = nil
		c.SpecificTime = ""
	}

	if (c.Frequency == FrequencyDaily || c.Frequency == FrequencyWeekly) && c.SpecificTime == "" {
		c.SpecificTime = DefaultSpecificTime
	}
}

// ParseClock parses an "HH:MM" time of day.
func ParseClock(value string) (hour int, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("%w: specificTime %q must be HH:MM", ErrValidation, value)
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: specificTime %q has invalid hour", ErrValidation, value)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: specificTime %q has invalid minute", ErrValidation, value)
	}

	return hour, minute, nil
}

func uniqueWeekdays(days []time.Weekday) []time.Weekday {
	seen := make(map[time.Weekday]struct{}, len(days))
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
