// Package lifecycle holds process-wide readiness and drain flags read by /health.
package lifecycle

import (
	"sync/atomic"
	"time"
)

var (
	ready        atomic.Bool
	shuttingDown atomic.Bool
	startedAt    atomic.Int64
)

func init() {
	startedAt.Store(time.Now().UnixNano())
}

// MarkReady flips the process to ready once startup work (backend bootstrap,
// cache warm) has finished. Health reports starting until then.
func MarkReady() {
	ready.Store(true)
}

// IsReady reports whether MarkReady has been called.
func IsReady() bool {
	return ready.Load()
}

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// Uptime returns time since process start.
func Uptime() time.Duration {
	return time.Since(time.Unix(0, startedAt.Load()))
}

// Reset restores the initial flags. Tests only.
func Reset() {
	ready.Store(false)
	shuttingDown.Store(false)
}
