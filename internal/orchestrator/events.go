package orchestrator

import (
	"sync"
	"time"
)

// EventType represents the type of fix-loop event.
type EventType string

const (
	// EventTransition indicates the run entered a new state.
	EventTransition EventType = "transition"
	// EventFixApplied indicates a finding was remediated.
	EventFixApplied EventType = "fix_applied"
	// EventFixSkipped indicates a finding could not be remediated this cycle.
	EventFixSkipped EventType = "fix_skipped"
	// EventRunDone indicates the run reached a terminal state.
	EventRunDone EventType = "run_done"
)

// Event is emitted by runs for progress displays.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// RunID identifies the run.
	RunID string
	// EntryName is the entry being fixed.
	EntryName string
	// State is the state entered, for transitions and run_done.
	State State
	// Iteration is the completed iteration count at the time of the event.
	Iteration int
	// FindingID is set for fix events.
	FindingID string
	// Message provides additional context about the event.
	Message string
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// EventStream fans run events out to one consumer, usually a progress
// printer. Progress events are dropped when the consumer falls behind;
// run_done is always delivered.
type EventStream struct {
	ch chan Event

	mu     sync.RWMutex
	closed bool

	dmu     sync.Mutex
	dropped map[EventType]uint64
}

// NewEventStream returns a stream buffering up to size events.
func NewEventStream(size int) *EventStream {
	return &EventStream{ch: make(chan Event, size), dropped: make(map[EventType]uint64)}
}

// Emit publishes ev. It is a no-op on a nil or closed stream.
func (s *EventStream) Emit(ev Event) {
	if s == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	if ev.Type == EventRunDone {
		s.ch <- ev
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.drop(ev)
	}
}

func (s *EventStream) drop(ev Event) {
	s.dmu.Lock()
	s.dropped[ev.Type]++
	n := s.dropped[ev.Type]
	s.dmu.Unlock()
	if n == 1 || n%50 == 0 {
		logf(ev.EntryName, "events", "consumer behind, %d %s events dropped", n, ev.Type)
	}
}

// Dropped returns how many events of type t were discarded.
func (s *EventStream) Dropped(t EventType) uint64 {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	return s.dropped[t]
}

// Events is the receive side. It is closed by Close.
func (s *EventStream) Events() <-chan Event {
	return s.ch
}

// Close ends the stream. Later Emits are ignored and repeated calls are
// safe.
func (s *EventStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
