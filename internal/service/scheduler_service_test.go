package service

import (
	"testing"
	"time"
)

func TestBuildDailySpec(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"09:30", "0 30 9 * * *", false},
		{"00:00", "0 0 0 * * *", false},
		{"23:59", "0 59 23 * * *", false},
		{"24:00", "", true},
		{"12:60", "", true},
		{"12", "", true},
		{"ab:cd", "", true},
	}

	for _, tt := range tests {
		got, err := buildDailySpec(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("buildDailySpec(%q): expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("buildDailySpec(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("buildDailySpec(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScheduleIntervalRejectsNonPositive(t *testing.T) {
	s := NewSchedulerService(time.UTC)
	if _, err := s.ScheduleInterval(0, func() {}); err == nil {
		t.Error("zero interval accepted")
	}
	if _, err := s.ScheduleInterval(-time.Minute, func() {}); err == nil {
		t.Error("negative interval accepted")
	}
	if _, err := s.ScheduleInterval(time.Hour, func() {}); err != nil {
		t.Errorf("one hour interval rejected: %v", err)
	}
}
