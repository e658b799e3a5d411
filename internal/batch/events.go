package batch

import (
	"sync"
	"time"
)

// EventKind names a progress event emitted during a write.
type EventKind string

const (
	EventChunkStart   EventKind = "chunk_start"
	EventChunkSuccess EventKind = "chunk_success"
	EventChunkRetry   EventKind = "chunk_retry"
	EventChunkFailure EventKind = "chunk_failure"
	EventHeartbeat    EventKind = "heartbeat"
	EventComplete     EventKind = "complete"
)

// Event is one progress notification for an operational console.
type Event struct {
	Time      time.Time `json:"time"`
	Kind      EventKind `json:"kind"`
	Operation string    `json:"operation"`
	Err       string    `json:"error,omitempty"`
	Chunk     int       `json:"chunk,omitempty"`
	Chunks    int       `json:"chunks"`
	Records   int       `json:"records,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Processed int       `json:"processed"`
	Errors    int       `json:"errors,omitempty"`
	Cancelled bool      `json:"cancelled,omitempty"`
	TimedOut  bool      `json:"timedOut,omitempty"`
}

// eventSink serializes callback invocations of one write.
type eventSink struct {
	fn        func(Event)
	operation string
	mu        sync.Mutex
}

func (s *eventSink) emit(e Event) {
	if s.fn == nil {
		return
	}
	e.Operation = s.operation
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn(e)
}
