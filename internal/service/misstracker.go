package service

import "sync"

// missTracker counts origin fetches in flight per cache key. With coalescing
// off, a count above one means the same forecast is being fetched twice.
type missTracker struct {
	mu       sync.Mutex
	inFlight map[string]int
}

func newMissTracker() *missTracker {
	return &missTracker{inFlight: make(map[string]int)}
}

// begin registers an origin fetch for key and returns how many are now in flight.
func (m *missTracker) begin(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight[key]++
	return m.inFlight[key]
}

// end releases one fetch for key. Unknown keys are ignored.
func (m *missTracker) end(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch n := m.inFlight[key]; {
	case n > 1:
		m.inFlight[key] = n - 1
	case n == 1:
		delete(m.inFlight, key)
	}
}

func (m *missTracker) active(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight[key]
}
