package domain

import (
	"fmt"
	"strings"
)

// RunTrigger records what started a submission.
type RunTrigger string

const (
	TriggerSchedule RunTrigger = "schedule"
	TriggerManual   RunTrigger = "manual"
	TriggerRetry    RunTrigger = "retry"
)

func (t RunTrigger) String() string { return string(t) }

func (t RunTrigger) IsValid() bool {
	switch t {
	case TriggerSchedule, TriggerManual, TriggerRetry:
		return true
	}
	return false
}

func ParseRunTriggerFromString(s string) (RunTrigger, error) {
	t := RunTrigger(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid trigger %q", ErrValidation, s)
	}
	return t, nil
}
