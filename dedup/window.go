// Package dedup suppresses redundant replays of the same logical mutation
// inside a sliding wall-clock window. It is a heuristic guard against CDC
// replay storms (snapshot + streaming overlap), not a correctness-critical
// idempotence guarantee; the downstream write API must tolerate duplicates.
package dedup

import (
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type entry struct {
	lastSeenWallClock time.Time
	lastModifiedAt    time.Time
}

// Window is a time-bounded map from record identity to the last-seen
// modification timestamp. Entries are evicted lazily: every ShouldSkip call
// sweeps entries whose wall-clock age exceeds the window; there is no
// background eviction, so memory is bounded by the rate of lookups.
//
// Safe for concurrent use: forwarding-task callbacks may race with the
// consumer loop in a multi-worker host.
type Window struct {
	entries   *xsync.MapOf[string, entry]
	window    time.Duration
	tolerance time.Duration
	clock     func() time.Time
}

// NewWindow creates a dedup window. window bounds how long an identity is
// remembered; tolerance bounds how far apart two modification timestamps may
// be and still count as the same logical mutation.
func NewWindow(window, tolerance time.Duration) *Window {
	return &Window{
		entries:   xsync.NewMapOf[string, entry](),
		window:    window,
		tolerance: tolerance,
		clock:     time.Now,
	}
}

// SetClock replaces the wall-clock source. Intended for tests.
func (w *Window) SetClock(clock func() time.Time) {
	w.clock = clock
}

// ShouldSkip reports whether the candidate mutation is a near-duplicate of a
// recently accepted one. On accept the entry is inserted or overwritten with
// the candidate's modification timestamp and the current wall clock.
func (w *Window) ShouldSkip(recordID string, modifiedAt time.Time) bool {
	now := w.clock()
	w.sweep(now)

	if existing, ok := w.entries.Load(recordID); ok {
		diff := modifiedAt.Sub(existing.lastModifiedAt)
		if diff < 0 {
			diff = -diff
		}
		if diff < w.tolerance {
			// Near-duplicate: report skip without refreshing the entry, so a
			// steady trickle of replays cannot keep an identity alive forever.
			return true
		}
	}

	w.entries.Store(recordID, entry{
		lastSeenWallClock: now,
		lastModifiedAt:    modifiedAt,
	})
	return false
}

// sweep evicts entries older than the window
func (w *Window) sweep(now time.Time) {
	w.entries.Range(func(key string, e entry) bool {
		if now.Sub(e.lastSeenWallClock) > w.window {
			w.entries.Delete(key)
		}
		return true
	})
}

// Len returns the number of live entries, for stats reporting
func (w *Window) Len() int {
	return w.entries.Size()
}
