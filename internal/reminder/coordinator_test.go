package reminder

import (
	"context"
	"testing"
	"time"

	"smartjar/internal/model"
	"smartjar/internal/notify"
)

type fakeFacility struct {
	scheduled  []time.Duration
	cancelAlls int
}

func (f *fakeFacility) ScheduleAfter(ctx context.Context, title, body string, delay time.Duration) error {
	f.scheduled = append(f.scheduled, delay)
	return nil
}

func (f *fakeFacility) CancelAll(ctx context.Context) error {
	f.cancelAlls++
	f.scheduled = nil
	return nil
}

func newTestCoordinator() (*Coordinator, map[int64]*fakeFacility) {
	facilities := make(map[int64]*fakeFacility)
	coordinator := NewCoordinator(func(chatID int64) notify.Facility {
		fac := &fakeFacility{}
		facilities[chatID] = fac
		return fac
	})
	return coordinator, facilities
}

func TestRecompute(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	root := &model.User{
		ID:       1,
		Username: "Анна",
		Courses: []model.Course{
			{
				ID:           10,
				Medicine:     "Аспирин",
				DateStarted:  "2026-03-08",
				DateFinished: "2026-03-12",
				Timetable:    []string{"09:00", "15:00", "21:00"},
			},
		},
	}

	coordinator, facilities := newTestCoordinator()
	coordinator.Recompute(context.Background(), 42, root, now)

	fac := facilities[42]
	if fac == nil {
		t.Fatal("no facility created for chat 42")
	}
	if fac.cancelAlls != 1 {
		t.Errorf("cancelAlls = %d, want 1 (cancel precedes rebuild)", fac.cancelAlls)
	}
	if len(fac.scheduled) != 8 {
		t.Fatalf("scheduled %d reminders, want 8", len(fac.scheduled))
	}
	if fac.scheduled[0] != 3*time.Hour {
		t.Errorf("first delay = %v, want 3h (15:00 today)", fac.scheduled[0])
	}
}

func TestRecomputeSkipsInactiveCourses(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	root := &model.User{
		ID:       1,
		Username: "Анна",
		Courses: []model.Course{
			{ID: 1, Medicine: "ждёт", DateStarted: "2026-03-12", DateFinished: "2026-03-20", Timetable: []string{"09:00"}},
			{ID: 2, Medicine: "закончился", DateStarted: "2026-02-01", DateFinished: "2026-03-09", Timetable: []string{"09:00"}},
			{ID: 3, Medicine: "битый", DateStarted: "oops", DateFinished: "2026-03-20", Timetable: []string{"09:00"}},
		},
	}

	coordinator, facilities := newTestCoordinator()
	coordinator.Recompute(context.Background(), 42, root, now)

	if got := len(facilities[42].scheduled); got != 0 {
		t.Errorf("scheduled %d reminders, want 0", got)
	}
}

func TestRecomputeCoversWards(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	crs := model.Course{
		Medicine:     "Витамин D",
		DateStarted:  "2026-03-10",
		DateFinished: "2026-03-10",
		Timetable:    []string{"20:00"},
	}
	root := &model.User{
		ID:       1,
		Username: "Анна",
		SpcOwners: []model.User{
			{ID: 2, Username: "Мама", Courses: []model.Course{crs}},
			{ID: 3, Username: "Папа", Courses: []model.Course{crs}},
		},
	}

	coordinator, facilities := newTestCoordinator()
	coordinator.Recompute(context.Background(), 42, root, now)

	if got := len(facilities[42].scheduled); got != 2 {
		t.Errorf("scheduled %d reminders, want 2 (one per ward)", got)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	root := &model.User{
		ID:       1,
		Username: "Анна",
		Courses: []model.Course{
			{Medicine: "Аспирин", DateStarted: "2026-03-10", DateFinished: "2026-03-11", Timetable: []string{"20:00"}},
		},
	}

	coordinator, facilities := newTestCoordinator()
	for i := 0; i < 3; i++ {
		coordinator.Recompute(context.Background(), 42, root, now)
	}

	fac := facilities[42]
	if len(fac.scheduled) != 2 {
		t.Errorf("scheduled %d reminders after repeated recompute, want 2", len(fac.scheduled))
	}
	if fac.cancelAlls != 3 {
		t.Errorf("cancelAlls = %d, want 3", fac.cancelAlls)
	}
}

func TestRecomputeNilRootOnlyCancels(t *testing.T) {
	coordinator, facilities := newTestCoordinator()
	coordinator.Recompute(context.Background(), 42, nil, time.Now())

	fac := facilities[42]
	if fac.cancelAlls != 1 || len(fac.scheduled) != 0 {
		t.Errorf("nil root: cancelAlls=%d scheduled=%d, want 1 and 0", fac.cancelAlls, len(fac.scheduled))
	}
}

func TestCancelAll(t *testing.T) {
	coordinator, facilities := newTestCoordinator()
	coordinator.CancelAll(context.Background(), 42)

	if facilities[42].cancelAlls != 1 {
		t.Errorf("cancelAlls = %d, want 1", facilities[42].cancelAlls)
	}
}

func TestFacilityIsReusedPerChat(t *testing.T) {
	created := 0
	coordinator := NewCoordinator(func(chatID int64) notify.Facility {
		created++
		return &fakeFacility{}
	})

	coordinator.CancelAll(context.Background(), 1)
	coordinator.CancelAll(context.Background(), 1)
	coordinator.CancelAll(context.Background(), 2)

	if created != 2 {
		t.Errorf("created %d facilities, want 2 (one per chat)", created)
	}
}
