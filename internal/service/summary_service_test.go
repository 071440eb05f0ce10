package service

import (
	"strings"
	"testing"
	"time"

	"smartjar/internal/model"
)

func TestDailySummary(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	root := &model.User{
		ID:       1,
		Username: "Анна",
		Courses: []model.Course{
			{Medicine: "Аспирин", DateStarted: "2026-03-08", DateFinished: "2026-03-12",
				Timetable: []string{"09:00", "21:00"}},
			{Medicine: "Будущий", DateStarted: "2026-03-15", DateFinished: "2026-03-20",
				Timetable: []string{"10:00"}},
		},
		SpcOwners: []model.User{
			{ID: 2, Username: "Мама", Courses: []model.Course{
				{Medicine: "Витамин D", DateStarted: "2026-03-01", DateFinished: "2026-03-10",
					Timetable: []string{"15:00", "13:00"}},
			}},
			{ID: 3, Username: "Папа"},
		},
	}

	out := NewSummaryService().DailySummary(root, now)

	for _, want := range []string{
		"Приёмы на сегодня",
		"10.03.2026",
		"<b>Анна</b>",
		"• 21:00 — Аспирин",
		"<b>Мама</b>",
		"• 13:00 — Витамин D",
		"• 15:00 — Витамин D",
		"<b>Папа</b>",
		"на сегодня приёмов больше нет",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary misses %q:\n%s", want, out)
		}
	}

	// Past doses and courses not yet started stay out.
	for _, unwanted := range []string{"09:00", "Будущий"} {
		if strings.Contains(out, unwanted) {
			t.Errorf("summary should not list %q:\n%s", unwanted, out)
		}
	}

	// Soonest dose first.
	if strings.Index(out, "13:00") > strings.Index(out, "15:00") {
		t.Errorf("doses are not sorted ascending:\n%s", out)
	}
}
