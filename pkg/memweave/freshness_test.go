package memweave

import (
	"context"
	"testing"
	"time"
)

func TestFreshness(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	days := func(n float64) time.Time {
		return now.Add(-time.Duration(n * 24 * float64(time.Hour)))
	}

	tests := []struct {
		name          string
		createdAt     time.Time
		retentionDays int
		want          float64
	}{
		{"brand new", now, 90, 1.0},
		{"future timestamp clamps to fresh", days(-2), 90, 1.0},
		{"half the window", days(45), 90, 0.5},
		{"one day left", days(89), 90, 1.0 / 90.0},
		{"exactly expired", days(90), 90, 0.0},
		{"long expired", days(400), 90, 0.0},
		{"short window", days(5), 10, 0.5},
		{"zero retention", days(1), 0, 0.0},
		{"negative retention", days(1), -7, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Freshness(tt.createdAt, now, tt.retentionDays)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Freshness() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFreshness_MonotonicInAge(t *testing.T) {
	now := time.Now().UTC()
	prev := 2.0
	for age := 0; age <= 120; age += 5 {
		createdAt := now.Add(-time.Duration(age) * 24 * time.Hour)
		f := Freshness(createdAt, now, 90)
		if f > prev {
			t.Fatalf("freshness increased with age at %d days: %v > %v", age, f, prev)
		}
		if f < 0 || f > 1 {
			t.Fatalf("freshness out of range at %d days: %v", age, f)
		}
		prev = f
	}
}

func TestDaysUntilExpiry(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name          string
		ageDays       float64
		retentionDays int
		want          float64
	}{
		{"new memory", 0, 90, 90},
		{"mid window", 30, 90, 60},
		{"expired clamps to zero", 120, 90, 0},
		{"zero retention", 1, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			createdAt := now.Add(-time.Duration(tt.ageDays * 24 * float64(time.Hour)))
			got := DaysUntilExpiry(createdAt, now, tt.retentionDays)
			if diff := got - tt.want; diff > 1e-6 || diff < -1e-6 {
				t.Errorf("DaysUntilExpiry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStaticRetention(t *testing.T) {
	days, err := StaticRetention(30).GetRetentionDays(context.Background(), "anyone")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if days != 30 {
		t.Errorf("got %d, want 30", days)
	}
}
