// Package store is the client side of the room document store: a keyed JSON
// tree rooted at rooms/{roomId} with subscribe, point write, point remove and
// one-shot read. Writes are last-write-wins; there are no multi-key
// transactions.
package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound         = errors.New("store: room not found")
	ErrPermissionDenied = errors.New("store: permission denied")
	ErrNetwork          = errors.New("store: network error")
	ErrInvalidPath      = errors.New("store: invalid path")
	ErrClosed           = errors.New("store: closed")
)

type RoomStore interface {
	// Subscribe delivers the current room document immediately and then one
	// event per change until the subscription is closed.
	Subscribe(ctx context.Context, roomID string) (*Subscription, error)
	// Get reads the room document once. ErrNotFound when it does not exist.
	Get(ctx context.Context, roomID string) ([]byte, error)
	// Set writes value at path, creating intermediate nodes. A nil value removes.
	Set(ctx context.Context, path string, value any) error
	// Remove deletes path. Removing an absent key is not an error.
	Remove(ctx context.Context, path string) error
}

// IsBenign reports errors that are expected while a session is being torn
// down (network flaps, permissions lost after logout, already deleted).
func IsBenign(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, context.Canceled)
}
