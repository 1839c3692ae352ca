package memweave

import (
	"context"
	"time"
)

// Freshness computes the time-decayed freshness score of a memory created
// at createdAt, relative to the owner's retention window.
//
//	freshness = max(0, 1 - ageInDays/retentionDays)
//
// The score is recomputed on every read and never persisted, so a changed
// retention window takes effect immediately for all existing memories.
// Returns 1.0 for ages <= 0 (clock skew) and 0.0 for retentionDays <= 0.
func Freshness(createdAt, now time.Time, retentionDays int) float64 {
	if retentionDays <= 0 {
		return 0.0
	}

	ageDays := now.Sub(createdAt).Hours() / 24.0
	if ageDays <= 0 {
		return 1.0
	}

	freshness := 1.0 - ageDays/float64(retentionDays)
	if freshness < 0 {
		return 0.0
	}
	return freshness
}

// DaysUntilExpiry returns how many days remain before a memory's age
// exceeds the retention window: max(0, retentionDays - ageInDays).
func DaysUntilExpiry(createdAt, now time.Time, retentionDays int) float64 {
	if retentionDays <= 0 {
		return 0.0
	}

	ageDays := now.Sub(createdAt).Hours() / 24.0
	remaining := float64(retentionDays) - ageDays
	if remaining < 0 {
		return 0.0
	}
	return remaining
}

// RetentionProvider supplies the per-owner retention window. It is owned
// and mutated by account management, outside this engine.
type RetentionProvider interface {
	GetRetentionDays(ctx context.Context, userID string) (int, error)
}

// StaticRetention is a RetentionProvider returning one fixed window for
// every owner. Useful as a default and in tests.
type StaticRetention int

// GetRetentionDays returns the fixed window.
func (s StaticRetention) GetRetentionDays(ctx context.Context, userID string) (int, error) {
	return int(s), nil
}
