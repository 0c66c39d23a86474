package event

import (
	"sync"
	"time"
)

// Recorder is a Sink that keeps every event it receives. Tests and
// diagnostics use it to assert on what a session emitted.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// Emit implements Sink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded kinds in order.
func (r *Recorder) Kinds() []Kind {
	events := r.Events()
	out := make([]Kind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}

	return out
}

// Filter returns the recorded events of kind k.
func (r *Recorder) Filter(k Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == k {
			out = append(out, e)
		}
	}

	return out
}

// Count returns how many events of kind k were recorded.
func (r *Recorder) Count(k Kind) int {
	return len(r.Filter(k))
}

// WaitFor blocks until at least n events of kind k were recorded or timeout
// elapses, and reports which happened.
func (r *Recorder) WaitFor(k Kind, n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if r.Count(k) >= n {
			return true
		}

		select {
		case <-r.notify:
		case <-deadline.C:
			return r.Count(k) >= n
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Reset forgets every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
