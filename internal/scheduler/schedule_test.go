package scheduler

import (
	"testing"
	"time"
)

func TestIntervalSchedule(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := Every(1 * time.Hour)
	next := s.Next(now)
	if !next.Equal(now.Add(1 * time.Hour)) {
		t.Errorf("Expected %v, got %v", now.Add(1*time.Hour), next)
	}
}

func TestDailySchedule(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	// later today
	s1 := Daily(14, 30)
	next1 := s1.Next(now)
	expected1 := time.Date(2025, 1, 1, 14, 30, 0, 0, time.UTC)
	if !next1.Equal(expected1) {
		t.Errorf("Case 1: Expected %v, got %v", expected1, next1)
	}

	// already passed, so tomorrow
	s2 := Daily(8, 0)
	next2 := s2.Next(now)
	expected2 := time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC)
	if !next2.Equal(expected2) {
		t.Errorf("Case 2: Expected %v, got %v", expected2, next2)
	}

	// exactly now rolls over
	s3 := Daily(10, 0)
	if got := s3.Next(now); !got.Equal(now.AddDate(0, 0, 1)) {
		t.Errorf("Case 3: Expected %v, got %v", now.AddDate(0, 0, 1), got)
	}
}
