package async

import (
	"sync"
	"time"

	"github.com/teranos/upilookup/lookup"
)

// ActivityLogSize bounds the in-memory activity log.
const ActivityLogSize = 100

// subscriberBuffer is the channel depth given to each subscriber.
const subscriberBuffer = 256

// EventKind identifies a run event.
type EventKind string

const (
	EventRunStarted   EventKind = "run_started"
	EventItemSettled  EventKind = "item_settled"
	EventRunPaused    EventKind = "run_paused"
	EventRunResumed   EventKind = "run_resumed"
	EventRunCancelled EventKind = "run_cancelled"
	EventRunCompleted EventKind = "run_completed"
	EventRunReset     EventKind = "run_reset"
)

// Event is a state change published to subscribers and the activity log.
// State is the snapshot taken when the event was published.
type Event struct {
	Kind    EventKind       `json:"kind"`
	RunID   string          `json:"run_id,omitempty"`
	At      time.Time       `json:"at"`
	Phone   string          `json:"phone,omitempty"`
	Outcome *lookup.Outcome `json:"outcome,omitempty"`
	Message string          `json:"message,omitempty"`
	State   JobState        `json:"state"`
}

// eventHub fans events out without blocking the publisher. A subscriber that
// falls behind misses events; the activity log keeps the last ActivityLogSize.
type eventHub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	log    []Event
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int]chan Event)}
}

func (h *eventHub) publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.log = append(h.log, e)
	if len(h.log) > ActivityLogSize {
		h.log = append(h.log[:0], h.log[len(h.log)-ActivityLogSize:]...)
	}

	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (h *eventHub) subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// recent returns up to n of the latest events, oldest first.
func (h *eventHub) recent(n int) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > len(h.log) {
		n = len(h.log)
	}
	return append([]Event(nil), h.log[len(h.log)-n:]...)
}

func (h *eventHub) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log = nil
}
