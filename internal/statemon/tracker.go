package statemon

import "sync"

// Tracker wraps a store's state so every mutation is snapshotted and its
// transition validated.
type Tracker[S any] struct {
	mu      sync.Mutex
	name    string
	monitor *Monitor
	state   S
}

// Track snapshots initial and returns a Tracker holding it.
func Track[S any](m *Monitor, storeName string, initial S) *Tracker[S] {
	m.Snapshot(storeName, initial, "")
	return &Tracker[S]{name: storeName, monitor: m, state: initial}
}

// Get returns the current state.
func (t *Tracker[S]) Get() S {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Apply replaces the state with fn(current), snapshots the result and
// validates the transition. fn may mutate its argument; the previous state is
// copied before fn runs.
func (t *Tracker[S]) Apply(action string, fn func(S) S) S {
	t.mu.Lock()
	previous := Normalize(t.state).Value
	t.state = fn(t.state)
	next := t.state
	t.mu.Unlock()

	t.monitor.Snapshot(t.name, next, action)
	t.monitor.ValidateTransition(t.name, previous, next, action)
	return next
}
