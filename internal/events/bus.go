package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names an engine event consumed by UI and analytics layers.
type Type string

const (
	MemoryRecorded       Type = "memory_recorded"
	ContextItemAddressed Type = "context_item_addressed"
	AlertCreated         Type = "alert_created"
	AlertUpdated         Type = "alert_updated"
	AlertResolved        Type = "alert_resolved"
)

// Event is one published fact. Payload is JSON-encodable.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	SubjectID string    `json:"subject_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

const (
	defaultRecent     = 200
	subscriberBacklog = 64
)

// Bus fans events out to subscribers without blocking the publisher.
// Subscribers that fall behind miss events and can re-read Recent.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	recent      []Event
	maxRecent   int
	dropped     uint64
	onPublish   func(Event, int)
}

func NewBus(maxRecent int) *Bus {
	if maxRecent <= 0 {
		maxRecent = defaultRecent
	}
	return &Bus{
		subscribers: make(map[chan Event]struct{}),
		maxRecent:   maxRecent,
	}
}

// SetPublishHook registers fn, called after each publish with the number of
// subscribers that missed the event.
func (b *Bus) SetPublishHook(fn func(e Event, dropped int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = fn
}

// Publish stamps and fans out e.
func (b *Bus) Publish(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.Lock()
	b.recent = append(b.recent, e)
	if len(b.recent) > b.maxRecent {
		b.recent = b.recent[len(b.recent)-b.maxRecent:]
	}
	dropped := 0
	for ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			dropped++
		}
	}
	b.dropped += uint64(dropped)
	hook := b.onPublish
	b.mu.Unlock()

	if hook != nil {
		hook(e, dropped)
	}
	return e
}

// Subscribe returns a buffered event channel and a function that removes the
// subscription and closes the channel. The function is safe to call twice.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBacklog)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Recent returns up to n of the latest events, oldest first.
func (b *Bus) Recent(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > len(b.recent) {
		n = len(b.recent)
	}
	out := make([]Event, n)
	copy(out, b.recent[len(b.recent)-n:])
	return out
}

func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped is the total number of per-subscriber deliveries skipped.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
