package course

import (
	"testing"
	"time"

	"smartjar/internal/model"
)

func date(value string) time.Time {
	t, err := time.ParseInLocation(model.DateLayout, value, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func TestResolve(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		started  string
		finished string
		want     Status
	}{
		{"starts tomorrow", "2026-03-11", "2026-03-20", Waiting},
		{"starts today", "2026-03-10", "2026-03-20", Active},
		{"started yesterday", "2026-03-09", "2026-03-20", Active},
		{"ends today", "2026-03-01", "2026-03-10", Active},
		{"single day course today", "2026-03-10", "2026-03-10", Active},
		{"ended yesterday", "2026-03-01", "2026-03-09", Finished},
		{"far future", "2027-01-01", "2027-02-01", Waiting},
		{"far past", "2025-01-01", "2025-02-01", Finished},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(date(tt.started), date(tt.finished), now)
			if got != tt.want {
				t.Errorf("Resolve(%s, %s) = %s, want %s", tt.started, tt.finished, got, tt.want)
			}
		})
	}
}

func TestResolveIgnoresTimeOfDay(t *testing.T) {
	// A course ending today stays active up to the last second of the day.
	lateEvening := time.Date(2026, 3, 10, 23, 59, 59, 0, time.UTC)
	if got := Resolve(date("2026-03-01"), date("2026-03-10"), lateEvening); got != Active {
		t.Errorf("Resolve at 23:59:59 = %s, want %s", got, Active)
	}
}

func TestStatusOf(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	crs := model.Course{DateStarted: "2026-03-10", DateFinished: "2026-03-12"}
	status, err := StatusOf(crs, now)
	if err != nil {
		t.Fatalf("StatusOf: %v", err)
	}
	if status != Active {
		t.Errorf("StatusOf = %s, want %s", status, Active)
	}

	if _, err := StatusOf(model.Course{DateStarted: "10.03.2026", DateFinished: "2026-03-12"}, now); err == nil {
		t.Error("expected error for malformed dateStarted")
	}
	if _, err := StatusOf(model.Course{DateStarted: "2026-03-10", DateFinished: ""}, now); err == nil {
		t.Error("expected error for empty dateFinished")
	}
}

func TestFilters(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	user := &model.User{
		Courses: []model.Course{
			{ID: 1, Medicine: "Аспирин", DateStarted: "2026-03-09", DateFinished: "2026-03-15"},
			{ID: 2, Medicine: "Витамин D", DateStarted: "2026-03-12", DateFinished: "2026-03-20"},
			{ID: 3, Medicine: "Ибупрофен", DateStarted: "2026-02-01", DateFinished: "2026-03-09"},
			{ID: 4, Medicine: "битая дата", DateStarted: "bad", DateFinished: "2026-03-15"},
		},
	}

	active := ActiveOf(user, now)
	if len(active) != 2 || active[0].ID != 1 || active[1].ID != 2 {
		t.Errorf("ActiveOf returned %v, want courses 1 and 2", ids(active))
	}

	finished := FinishedOf(user, now)
	if len(finished) != 1 || finished[0].ID != 3 {
		t.Errorf("FinishedOf returned %v, want course 3", ids(finished))
	}

	if got := ActiveOf(nil, now); got != nil {
		t.Errorf("ActiveOf(nil) = %v, want nil", got)
	}
}

func ids(courses []model.Course) []int64 {
	out := make([]int64, 0, len(courses))
	for _, c := range courses {
		out = append(out, c.ID)
	}
	return out
}
