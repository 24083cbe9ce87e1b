package service

import "sync"

// missCounter counts callers currently handling a miss for each key. More
// than one at a time means a stampede that the coalescer absorbed.
type missCounter struct {
	mu     sync.Mutex
	active map[string]int
}

func newMissCounter() *missCounter {
	return &missCounter{active: make(map[string]int)}
}

// enter registers a miss for key and returns how many are now active,
// including this one. leave must be called exactly once.
func (m *missCounter) enter(key string) (active int, leave func()) {
	m.mu.Lock()
	m.active[key]++
	active = m.active[key]
	m.mu.Unlock()

	var once sync.Once
	return active, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.active[key] <= 1 {
				delete(m.active, key)
				return
			}
			m.active[key]--
		})
	}
}

// inProgress returns the active miss count for key.
func (m *missCounter) inProgress(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[key]
}
