// Package traffic keeps sliding windows of request outcomes. Health uses it for
// the overload check (rate-limit denials) and the degraded check (Grist fetch
// error rate).
package traffic

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// retention bounds memory; windows longer than this undercount.
const retention = 30 * time.Minute

// pruneInterval is the minimum spacing between prunes, so a burst of records
// does not recopy the slices on every call.
const pruneInterval = time.Minute

var defaultTracker = NewTracker(clockwork.NewRealClock())

// RecordSuccess records a successful dataset load.
func RecordSuccess() { defaultTracker.RecordSuccess() }

// RecordError records a failed dataset load (upstream error, timeout, open circuit).
func RecordError() { defaultTracker.RecordError() }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.RecordDenied() }

// RequestCount returns success + error + denied outcomes within the window.
func RequestCount(window time.Duration) int { return defaultTracker.RequestCount(window) }

// DenialCount returns denials within the window.
func DenialCount(window time.Duration) int { return defaultTracker.DenialCount(window) }

// ErrorRate returns (errors, successes+errors) within the window.
func ErrorRate(window time.Duration) (errors, total int) { return defaultTracker.ErrorRate(window) }

// ClearErrors forgets recorded errors, e.g. after a recovery probe succeeds.
func ClearErrors() { defaultTracker.ClearErrors() }

// Reset clears all recorded outcomes. For tests only.
func Reset() { defaultTracker.Reset() }

// Tracker maintains sliding windows of outcome timestamps.
type Tracker struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	success []time.Time
	errors  []time.Time
	denied  []time.Time

	lastPrune time.Time
}

// NewTracker returns a Tracker reading time from clock.
func NewTracker(clock clockwork.Clock) *Tracker {
	return &Tracker{clock: clock}
}

func (t *Tracker) RecordSuccess() { t.record(&t.success) }
func (t *Tracker) RecordError()   { t.record(&t.errors) }
func (t *Tracker) RecordDenied()  { t.record(&t.denied) }

func (t *Tracker) record(times *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	*times = append(*times, now)
	t.pruneLocked(now)
}

// RequestCount returns the total number of outcomes within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	return countSince(t.success, cutoff) + countSince(t.errors, cutoff) + countSince(t.denied, cutoff)
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.denied, t.clock.Now().Add(-window))
}

// ErrorRate returns (errorCount, totalCount) within the window. Denials are excluded.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	e := countSince(t.errors, cutoff)
	return e, e + countSince(t.success, cutoff)
}

// ClearErrors drops all recorded errors.
func (t *Tracker) ClearErrors() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors = nil
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.success, t.errors, t.denied = nil, nil, nil
}

// countSince relies on timestamps being appended in order.
func countSince(times []time.Time, cutoff time.Time) int {
	for i, ts := range times {
		if !ts.Before(cutoff) {
			return len(times) - i
		}
	}
	return 0
}

// pruneLocked must be called with mu held. It runs at most once per pruneInterval.
func (t *Tracker) pruneLocked(now time.Time) {
	if !t.lastPrune.IsZero() && now.Sub(t.lastPrune) < pruneInterval {
		return
	}
	t.lastPrune = now
	cutoff := now.Add(-retention)
	for _, times := range []*[]time.Time{&t.success, &t.errors, &t.denied} {
		s := *times
		i := 0
		for ; i < len(s) && s[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*times = append(s[:0], s[i:]...)
		}
	}
}
