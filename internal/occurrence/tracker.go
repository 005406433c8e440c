// Package occurrence implements the persisted firing throttle for audience
// filters: "has this rule already fired its quota of times within its window".
package occurrence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tollgate-sdk/tollgate/internal/observability"
	"github.com/tollgate-sdk/tollgate/model"
)

// RecordStore is the slice of the storage contract the tracker needs.
type RecordStore interface {
	CountOccurrences(ctx context.Context, key string, since time.Time) (int, error)
	SaveOccurrence(ctx context.Context, key string, at time.Time) error
}

// Tracker answers ShouldFire for matched audiences and persists occurrence
// records for real (non-preemptive) firings.
type Tracker struct {
	store  RecordStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Tracker. If logger is nil, it defaults to slog.Default().
func New(store RecordStore, logger *slog.Logger) *Tracker {
	if store == nil {
		panic("occurrence: record store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Tracker{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the time source. Tests use this to pin windows.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// ShouldFire decides whether a matched audience may fire.
//
// An unmatched audience never fires and never writes a record. A matched
// audience without an occurrence spec always fires. Otherwise the existing
// records inside the window plus the current attempt are compared against the
// spec's cap. A new record is persisted only when firing is allowed and the
// evaluation is not preemptive. Preemptive evaluations are strictly
// side-effect free so callers can predict outcomes speculatively.
func (t *Tracker) ShouldFire(
	ctx context.Context,
	spec *model.OccurrenceSpec,
	matched bool,
	preemptive bool,
) (bool, error) {
	if !matched {
		return false, nil
	}

	if spec == nil {
		t.logger.Debug("no occurrence throttle on audience, firing")
		return true, nil
	}

	since := t.windowStart(spec)
	existing, err := t.store.CountOccurrences(ctx, spec.Key, since)
	if err != nil {
		// Fail closed: an unreadable counter must not allow unlimited firing.
		return false, fmt.Errorf("occurrence: count for %s: %w", spec.Key, err)
	}

	count := existing + 1
	if count > spec.MaxCount {
		t.logger.Debug("occurrence cap exhausted",
			slog.String("key", spec.Key),
			slog.Int("count", count),
			slog.Int("max_count", spec.MaxCount),
		)
		return false, nil
	}

	if !preemptive {
		if err := t.store.SaveOccurrence(ctx, spec.Key, t.now()); err != nil {
			return false, fmt.Errorf("occurrence: save for %s: %w", spec.Key, err)
		}
		observability.OccurrenceWrites.Inc()
	}

	return true, nil
}

// windowStart converts the spec's interval into the earliest timestamp that
// still counts. A zero interval means the window is unbounded.
func (t *Tracker) windowStart(spec *model.OccurrenceSpec) time.Time {
	window := spec.Window()
	if window <= 0 {
		return time.Time{}
	}
	return t.now().Add(-window)
}
