// internal/offline/monitor.go
package offline

import (
	"sync"
)

// Monitor tracks connectivity as reported by the host environment and
// notifies subscribers on transitions. Reporting the current state
// again is a no-op; each transition notifies each subscriber exactly
// once.
type Monitor struct {
	mu          sync.Mutex
	online      bool
	subscribers []func(online bool)
}

// NewMonitor creates a monitor in the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{online: online}
}

// Online reports the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe registers fn to be called on every transition. Callbacks
// run synchronously on the reporting goroutine, in registration order.
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Report records a connectivity reading. Returns true when the
// reading was a transition and subscribers were notified.
func (m *Monitor) Report(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	subs := make([]func(online bool), len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()

	// Callbacks run outside the lock so a subscriber can query the
	// monitor without deadlocking.
	for _, fn := range subs {
		fn(online)
	}
	return true
}
