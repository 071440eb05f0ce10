package course

import (
	"time"

	"smartjar/internal/model"
)

// ActiveOf returns the user's courses that are still relevant on screens:
// active ones plus those waiting to start. Courses with malformed dates are
// skipped.
func ActiveOf(u *model.User, now time.Time) []model.Course {
	return filter(u, now, func(s Status) bool { return s == Active || s == Waiting })
}

// FinishedOf returns the user's finished courses.
func FinishedOf(u *model.User, now time.Time) []model.Course {
	return filter(u, now, func(s Status) bool { return s == Finished })
}

func filter(u *model.User, now time.Time, keep func(Status) bool) []model.Course {
	if u == nil {
		return nil
	}
	var courses []model.Course
	for _, c := range u.Courses {
		status, err := StatusOf(c, now)
		if err != nil {
			continue
		}
		if keep(status) {
			courses = append(courses, c)
		}
	}
	return courses
}
