package store

import (
	"sync"
)

// Event is one change notification for a room. Data is the whole room
// document, nil when the room does not exist. Err is terminal: no further
// events follow it.
type Event struct {
	RoomID string
	Data   []byte
	Err    error
}

const subscriptionBuffer = 8

// Subscription is a live view on one room document. Close must be called
// exactly when the subscriber is done; it is safe to call more than once.
type Subscription struct {
	roomID  string
	events  chan Event
	once    sync.Once
	release func(*Subscription)
}

func (s *Subscription) RoomID() string {
	return s.roomID
}

func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.release != nil {
			s.release(s)
		}
	})
}

// Hub fans room changes out to subscriptions. Delivery conflates: when a
// subscriber falls behind, the oldest pending event is dropped so the newest
// snapshot always gets through.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*Subscription]struct{})}
}

// Add registers a subscription for roomID. The caller delivers the initial
// snapshot with Deliver.
func (h *Hub) Add(roomID string) *Subscription {
	sub := &Subscription{
		roomID:  roomID,
		events:  make(chan Event, subscriptionBuffer),
		release: h.remove,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[roomID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[roomID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.roomID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.roomID)
	}
	close(sub.events)
}

// Publish sends data to every subscriber of roomID.
func (h *Hub) Publish(roomID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[roomID] {
		push(sub, Event{RoomID: roomID, Data: data})
	}
}

// Deliver sends ev to a single subscription if it is still registered.
func (h *Hub) Deliver(sub *Subscription, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.roomID][sub]; !ok {
		return
	}
	push(sub, ev)
}

// Fail delivers a terminal error to every subscriber of every room.
func (h *Hub) Fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID, set := range h.subs {
		for sub := range set {
			push(sub, Event{RoomID: roomID, Err: err})
		}
	}
}

func (h *Hub) HasSubscribers(roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[roomID]) > 0
}

func (h *Hub) Rooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms := make([]string, 0, len(h.subs))
	for roomID := range h.subs {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// push must be called with h.mu held; it is the only sender on sub.events.
func push(sub *Subscription, ev Event) {
	for {
		select {
		case sub.events <- ev:
			return
		default:
		}
		select {
		case <-sub.events:
		default:
		}
	}
}
