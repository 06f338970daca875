package provider

import "sync"

// listeners is a minimal subscription list. Delivery is synchronous and
// edge-triggered: callers emit only on state transitions, never on
// steady repetition, so subscribers see each edge at least once and
// never a level-triggered stream.
type listeners struct {
	mu  sync.Mutex
	fns []func(*Terminal)
}

func (l *listeners) add(fn func(*Terminal)) {
	l.mu.Lock()
	l.fns = append(l.fns, fn)
	l.mu.Unlock()
}

func (l *listeners) emit(t *Terminal) {
	l.mu.Lock()
	fns := make([]func(*Terminal), len(l.fns))
	copy(fns, l.fns)
	l.mu.Unlock()
	for _, fn := range fns {
		fn(t)
	}
}
