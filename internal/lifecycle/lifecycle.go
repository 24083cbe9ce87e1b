package lifecycle

import (
	"sync"
	"time"
)

var (
	mu        sync.RWMutex
	draining  bool
	reason    string
	drainedAt time.Time
	startedAt = time.Now()
)

// BeginShutdown marks the process as draining. Only the first call records
// its reason; it reports whether this call started the drain. Health returns
// 503 shutting-down from then on.
func BeginShutdown(why string) bool {
	mu.Lock()
	defer mu.Unlock()
	if draining {
		return false
	}
	draining = true
	reason = why
	drainedAt = time.Now()
	return true
}

// IsShuttingDown reports whether the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	mu.RLock()
	defer mu.RUnlock()
	return draining
}

// ShutdownReason returns the reason passed to the first BeginShutdown, or "".
func ShutdownReason() string {
	mu.RLock()
	defer mu.RUnlock()
	return reason
}

// DrainingFor returns how long the process has been draining; zero when running.
func DrainingFor() time.Duration {
	mu.RLock()
	defer mu.RUnlock()
	if !draining {
		return 0
	}
	return time.Since(drainedAt)
}

// Uptime returns the time since process start.
func Uptime() time.Duration {
	return time.Since(startedAt)
}

// Reset returns to the running state. For tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	draining = false
	reason = ""
	drainedAt = time.Time{}
}
