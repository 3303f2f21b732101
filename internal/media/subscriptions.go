package media

import "sync"

// Subscriptions is the set of event handlers a session attached to one engine.
// DetachAll tears them down as a single step.
type Subscriptions struct {
	mu       sync.Mutex
	unsubs   []Unsubscribe
	detached bool
}

// Add subscribes h to event on e and records the unsubscribe func. Adding to a
// detached set is a no-op.
func (s *Subscriptions) Add(e Engine, event EventType, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return
	}
	s.unsubs = append(s.unsubs, e.On(event, h))
}

// Len returns the number of live subscriptions.
func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unsubs)
}

// DetachAll removes every subscription. Later calls do nothing.
func (s *Subscriptions) DetachAll() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.detached = true
	s.mu.Unlock()

	for _, u := range unsubs {
		if u != nil {
			u()
		}
	}
}
