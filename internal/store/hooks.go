package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DisconnectHooks holds compensating removals tied to a connection. They are
// registered while a participant is in a room, cancelled on a graceful leave
// and fired by the transport when the connection drops without one.
//
// Several connections can hold the same path, e.g. a user who reconnected
// before the old socket was noticed as dead. A path is only removed when the
// last connection holding it fires.
type DisconnectHooks struct {
	mu      sync.Mutex
	conns   map[string][]string
	holders map[string]map[string]struct{}
}

func NewDisconnectHooks() *DisconnectHooks {
	return &DisconnectHooks{
		conns:   make(map[string][]string),
		holders: make(map[string]map[string]struct{}),
	}
}

// Register adds paths to remove if connID disconnects ungracefully.
// Registering a path twice for the same connection is a no-op.
func (h *DisconnectHooks) Register(connID string, paths ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, path := range paths {
		held := h.holders[path]
		if held == nil {
			held = make(map[string]struct{})
			h.holders[path] = held
		}
		if _, ok := held[connID]; ok {
			continue
		}
		held[connID] = struct{}{}
		h.conns[connID] = append(h.conns[connID], path)
	}
}

// Cancel drops every registration for connID.
func (h *DisconnectHooks) Cancel(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.release(connID)
}

func (h *DisconnectHooks) Pending(connID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.conns[connID]...)
}

// Holders reports how many connections still hold path.
func (h *DisconnectHooks) Holders(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.holders[path])
}

// Fire releases connID and removes the paths no other connection holds. All
// removals are attempted; the returned error joins the ones that failed.
func (h *DisconnectHooks) Fire(ctx context.Context, s RoomStore, connID string) error {
	h.mu.Lock()
	orphaned := h.release(connID)
	h.mu.Unlock()

	var errs []error
	for _, path := range orphaned {
		if err := s.Remove(ctx, path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// release drops connID from every path it holds and returns the paths left
// without a holder. h.mu must be held.
func (h *DisconnectHooks) release(connID string) []string {
	var orphaned []string
	for _, path := range h.conns[connID] {
		held := h.holders[path]
		delete(held, connID)
		if len(held) == 0 {
			delete(h.holders, path)
			orphaned = append(orphaned, path)
		}
	}
	delete(h.conns, connID)
	return orphaned
}
