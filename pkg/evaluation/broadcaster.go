package evaluation

import (
	"sync"
)

// Broadcaster fans evaluation events out to registered listeners.
//
// It is stateless with respect to projects: it does not remember which
// projects were already notified. Registering the same listener twice
// makes it fire twice.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewBroadcaster creates a broadcaster with no listeners.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make([]Listener, 0),
	}
}

// AddListener registers a listener for both phases. nil is ignored.
func (b *Broadcaster) AddListener(listener Listener) {
	if listener == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.listeners = append(b.listeners, listener)
}

// AddBeforeCallback registers fn to run before each project evaluation.
func (b *Broadcaster) AddBeforeCallback(fn func(project Project) error) {
	if fn == nil {
		return
	}
	b.AddListener(BeforeFunc(fn))
}

// AddAfterCallback registers fn to run after each project evaluation.
func (b *Broadcaster) AddAfterCallback(fn func(project Project, failure error) error) {
	if fn == nil {
		return
	}
	b.AddListener(AfterFunc(fn))
}

// Len returns the number of registrations.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.listeners)
}

// BeforeEvaluate notifies every listener that project is about to be
// evaluated. It stops at, and returns, the first listener error.
func (b *Broadcaster) BeforeEvaluate(project Project) error {
	for _, l := range b.snapshot() {
		if err := l.BeforeEvaluate(project); err != nil {
			return err
		}
	}
	return nil
}

// AfterEvaluate notifies every listener that project was evaluated,
// handing each the evaluation failure (nil on success). It stops at, and
// returns, the first listener error.
func (b *Broadcaster) AfterEvaluate(project Project, failure error) error {
	for _, l := range b.snapshot() {
		if err := l.AfterEvaluate(project, failure); err != nil {
			return err
		}
	}
	return nil
}

// snapshot copies the listener list so listeners may register others
// while a broadcast is running.
func (b *Broadcaster) snapshot() []Listener {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Listener, len(b.listeners))
	copy(out, b.listeners)
	return out
}
