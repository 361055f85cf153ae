package mailtracker

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/mail-tracker/internal/pkg/logger"
)

// Gate keeps concurrent sweeps from overlapping. It is a try-lock: a sweep
// that cannot acquire it is skipped, never queued. distlock.DistLock
// satisfies it.
type Gate interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Sweeper deletes sent messages (and their links) older than the retention
// window.
type Sweeper struct {
	repo Repository
	days int
	gate Gate
	now  func() time.Time
}

// NewSweeper creates a sweeper keeping expireDays of history. A nil gate
// lets every call sweep.
func NewSweeper(repo Repository, expireDays int, gate Gate) *Sweeper {
	return &Sweeper{repo: repo, days: expireDays, gate: gate, now: time.Now}
}

// SetClock overrides the time source.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// Cutoff returns the creation time before which records are expired.
func (s *Sweeper) Cutoff() time.Time {
	return s.now().UTC().Add(-time.Duration(s.days) * 24 * time.Hour)
}

// Sweep removes expired records and returns how many messages were deleted.
// It is a no-op when retention is disabled or another sweep holds the gate.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	if s.days <= 0 {
		return 0, nil
	}

	if s.gate != nil {
		acquired, err := s.gate.Acquire(ctx)
		if err != nil {
			return 0, fmt.Errorf("acquire sweep gate: %w", err)
		}
		if !acquired {
			logger.Debug("mail-tracker: sweep already running elsewhere, skipping")
			return 0, nil
		}
		defer func() {
			if err := s.gate.Release(context.Background()); err != nil {
				logger.Warn("mail-tracker: failed to release sweep gate", "error", err)
			}
		}()
	}

	cutoff := s.Cutoff()
	deleted, err := s.repo.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		return deleted, fmt.Errorf("delete records before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if deleted > 0 {
		logger.Info("mail-tracker: expired sent messages removed", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}
