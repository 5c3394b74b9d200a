package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore keeps every room document in process. Writes and their change
// notifications are serialized, so subscribers observe writes in order.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]Document
	hub   *Hub
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]Document),
		hub:   NewHub(),
	}
}

func (m *MemoryStore) Subscribe(ctx context.Context, roomID string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, _, err := ParsePath(RoomPath(roomID)); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sub := m.hub.Add(roomID)
	data, err := m.snapshotLocked(roomID)
	if err != nil {
		sub.Close()
		return nil, err
	}
	m.hub.Deliver(sub, Event{RoomID: roomID, Data: data})
	return sub, nil
}

func (m *MemoryStore) Get(ctx context.Context, roomID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := m.snapshotLocked(roomID)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNotFound
	}
	return data, nil
}

func (m *MemoryStore) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	roomID, keys, err := ParsePath(path)
	if err != nil {
		return err
	}
	normalized, err := Normalize(value)
	if err != nil {
		return err
	}
	if normalized == nil {
		return m.Remove(ctx, path)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(keys) == 0 {
		doc, err := AsDocument(normalized)
		if err != nil {
			return err
		}
		m.rooms[roomID] = doc
	} else {
		doc, ok := m.rooms[roomID]
		if !ok {
			doc = make(Document)
			m.rooms[roomID] = doc
		}
		SetPath(doc, keys, normalized)
	}
	return m.publishLocked(roomID)
}

func (m *MemoryStore) Remove(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	roomID, keys, err := ParsePath(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	if len(keys) == 0 {
		delete(m.rooms, roomID)
		return m.publishLocked(roomID)
	}
	if !RemovePath(doc, keys) {
		return nil
	}
	return m.publishLocked(roomID)
}

// Rooms lists the ids of every stored room.
func (m *MemoryStore) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	return ids
}

func (m *MemoryStore) snapshotLocked(roomID string) ([]byte, error) {
	doc, ok := m.rooms[roomID]
	if !ok {
		return nil, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode room %s: %w", roomID, err)
	}
	return data, nil
}

func (m *MemoryStore) publishLocked(roomID string) error {
	data, err := m.snapshotLocked(roomID)
	if err != nil {
		return err
	}
	m.hub.Publish(roomID, data)
	return nil
}
