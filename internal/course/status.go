package course

import (
	"fmt"
	"time"

	"smartjar/internal/model"
)

// Status classifies a course against the current date. It is always derived
// from the two date fields, never stored.
type Status int

const (
	Waiting Status = iota
	Active
	Finished
)

func (s Status) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Active:
		return "active"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Resolve maps a course date range onto its lifecycle state at day
// granularity. The range is inclusive on both ends: a course starting today is
// already active, and a course ending today is still active.
func Resolve(started, finished, now time.Time) Status {
	today := StartOfDay(now)
	if StartOfDay(started).After(today) {
		return Waiting
	}
	if StartOfDay(finished).Before(today) {
		return Finished
	}
	return Active
}

// StatusOf resolves a wire-format course. Dates are parsed in now's location.
func StatusOf(c model.Course, now time.Time) (Status, error) {
	started, err := time.ParseInLocation(model.DateLayout, c.DateStarted, now.Location())
	if err != nil {
		return Finished, fmt.Errorf("parse dateStarted %q: %w", c.DateStarted, err)
	}
	finished, err := time.ParseInLocation(model.DateLayout, c.DateFinished, now.Location())
	if err != nil {
		return Finished, fmt.Errorf("parse dateFinished %q: %w", c.DateFinished, err)
	}
	return Resolve(started, finished, now), nil
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
