package realtime

import (
	"context"
	"sync"
	"time"
)

// Action distinguishes row-level change-feed events.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
)

// Event is a row-level change notification scoped to one recipient.
type Event struct {
	UserID    string
	Table     string
	Action    Action
	RowID     string
	Timestamp time.Time
}

// Dispatcher fans change-feed events out to per-user subscribers. Delivery
// is best effort: a subscriber with a full buffer misses the event.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a change-feed listener for one user. The returned
// cancel function is idempotent; the subscription also ends when ctx is
// cancelled.
func (d *Dispatcher) Subscribe(ctx context.Context, userID string) (<-chan Event, func()) {
	if userID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
	}
	d.register(userID, sub)
	cleanup := func() {
		d.unregister(userID, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers an event to every subscriber of its recipient without
// blocking the caller.
func (d *Dispatcher) Publish(event Event) {
	if event.UserID == "" || event.Table == "" {
		return
	}
	d.mu.RLock()
	subs := d.subscribers[event.UserID]
	if len(subs) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subs))
	for _, sub := range subs {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(userID string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*subscriber)
	}
	d.subscribers[userID][sub.id] = sub
}

func (d *Dispatcher) unregister(userID string, subscriberID int64) {
	d.mu.Lock()
	subs := d.subscribers[userID]
	if subs != nil {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
