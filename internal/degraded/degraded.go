// Package degraded tracks the Grist fetch error rate and drives recovery probes
// once fetches start failing.
package degraded

import (
	"time"

	"github.com/kjstillabower/pathogen-map-dashboard/internal/traffic"
)

// RecordSuccess records a successful dataset load.
func RecordSuccess() {
	traffic.RecordSuccess()
}

// RecordError records a failed dataset load and wakes the recovery listener.
func RecordError() {
	traffic.RecordError()
	NotifyDegraded()
}

// ErrorRate returns (errorCount, totalCount) within the window. totalCount = successes + errors.
func ErrorRate(window time.Duration) (errors, total int) {
	return traffic.ErrorRate(window)
}

// IsDegraded reports whether the error percentage within window is at least thresholdPct.
// An empty window is never degraded.
func IsDegraded(window time.Duration, thresholdPct int) bool {
	errs, total := ErrorRate(window)
	if total == 0 || thresholdPct <= 0 {
		return false
	}
	return errs*100 >= thresholdPct*total
}

// Reset forgets recorded errors, keeping successes.
func Reset() {
	traffic.ClearErrors()
}
