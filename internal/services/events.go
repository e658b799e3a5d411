package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/appraisal/internal/batch"
)

const (
	// eventHistory is how many recent events a late subscriber is replayed.
	eventHistory = 64
	// subscriberBuffer is the channel capacity of one subscriber. Events are
	// dropped for subscribers that fall further behind.
	subscriberBuffer = 128
)

// EventKind names a run event.
type EventKind string

const (
	EventState EventKind = "state"
	EventBatch EventKind = "batch"
)

// Event is one notification on a run's stream.
type Event struct {
	Time    time.Time    `json:"time"`
	Batch   *batch.Event `json:"batch,omitempty"`
	Kind    EventKind    `json:"kind"`
	State   RunState     `json:"state"`
	Message string       `json:"message,omitempty"`
	RunID   uuid.UUID    `json:"runId"`
}

// eventHub fans events of one run out to any number of subscribers.
type eventHub struct {
	subs    map[int]chan Event
	history []Event
	next    int
	closed  bool
	mu      sync.Mutex
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int]chan Event)}
}

func (h *eventHub) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.history = append(h.history, e)
	if len(h.history) > eventHistory {
		h.history = h.history[len(h.history)-eventHistory:]
	}
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// subscribe returns a channel primed with recent history. The channel is
// closed by the returned function or when the run ends.
func (h *eventHub) subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer+len(h.history))
	for _, e := range h.history {
		ch <- e
	}
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
