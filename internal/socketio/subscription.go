package socketio

import "sync"

// Registrar is anything handlers can be attached to, such as *Client.
type Registrar interface {
	On(event string, handler Handler) func()
}

// Subscription groups handler registrations so they can be released together.
type Subscription struct {
	mutex  sync.Mutex
	offs   []func()
	closed bool
}

// Subscribe registers every handler in handlers on target.
func Subscribe(target Registrar, handlers map[string]Handler) *Subscription {
	sub := &Subscription{offs: make([]func(), 0, len(handlers))}
	for event, handler := range handlers {
		sub.offs = append(sub.offs, target.On(event, handler))
	}
	return sub
}

// Close removes all registrations. It is safe to call more than once and on a
// nil subscription.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, off := range s.offs {
		off()
	}
	s.offs = nil
}

// Closed reports whether Close has run.
func (s *Subscription) Closed() bool {
	if s == nil {
		return true
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closed
}
