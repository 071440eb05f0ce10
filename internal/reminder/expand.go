package reminder

import (
	"time"

	"smartjar/internal/course"
	"smartjar/internal/model"
)

// FireTimes expands a course into every remaining dose instant from now
// through the course's end date. Today's pass keeps only times not yet past
// (zero-padded "HH:mm" compares lexicographically, a dose exactly at now still
// counts); every later day up to and including the end date contributes the
// full timetable. An end date before tomorrow adds no further days.
func FireTimes(c model.Course, now time.Time) []time.Time {
	finished, err := time.ParseInLocation(model.DateLayout, c.DateFinished, now.Location())
	if err != nil {
		return nil
	}

	var fires []time.Time

	wall := now.Format(model.TimeLayout)
	today := course.StartOfDay(now)
	for _, tt := range c.Timetable {
		if tt < wall {
			continue
		}
		if at, ok := atTime(today, tt); ok {
			fires = append(fires, at)
		}
	}

	end := course.StartOfDay(finished)
	for day := today.AddDate(0, 0, 1); !day.After(end); day = day.AddDate(0, 0, 1) {
		for _, tt := range c.Timetable {
			if at, ok := atTime(day, tt); ok {
				fires = append(fires, at)
			}
		}
	}
	return fires
}

func atTime(day time.Time, hhmm string) (time.Time, bool) {
	t, err := time.Parse(model.TimeLayout, hhmm)
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), true
}
