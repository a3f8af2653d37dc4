package lifecycle

import "sync/atomic"

var (
	shuttingDown atomic.Bool
	ready        atomic.Bool
)

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// MarkReady records that a dataset has been loaded at least once. It never reverts.
func MarkReady() {
	ready.Store(true)
}

// IsReady reports whether the first dataset load has succeeded and the process is not draining.
func IsReady() bool {
	return ready.Load() && !shuttingDown.Load()
}

// ResetReady clears the ready flag. For tests only.
func ResetReady() {
	ready.Store(false)
}
