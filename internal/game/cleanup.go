package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/scythe504/planning-poker-backend/internal"
	"github.com/scythe504/planning-poker-backend/internal/shared/logger"
	"github.com/scythe504/planning-poker-backend/internal/store"
	"go.uber.org/zap"
)

const cleanupCheckTimeout = 10 * time.Second

// =============================================================================
// EMPTY ROOM CLEANUP
// =============================================================================

// CleanupScheduler deletes rooms that stay empty for a grace period. There is
// at most one pending timer per room; scheduling again restarts it. A nil
// *CleanupScheduler ignores every call.
type CleanupScheduler struct {
	store store.RoomStore
	grace time.Duration

	mu      sync.Mutex
	pending map[string]*pendingCleanup
}

type pendingCleanup struct {
	timer      *time.Timer
	authorized func() bool
}

func NewCleanupScheduler(s store.RoomStore, grace time.Duration) *CleanupScheduler {
	return &CleanupScheduler{
		store:   s,
		grace:   grace,
		pending: make(map[string]*pendingCleanup),
	}
}

// Schedule starts or restarts the grace timer for roomID.
func (c *CleanupScheduler) Schedule(roomID string) {
	c.schedule(roomID, nil)
}

// SchedulePassive is Schedule for callers that may lose access to the store
// before the timer fires. The check is skipped unless stillAuthorized
// reports true at that point.
func (c *CleanupScheduler) SchedulePassive(roomID string, stillAuthorized func() bool) {
	c.schedule(roomID, stillAuthorized)
}

func (c *CleanupScheduler) schedule(roomID string, authorized func() bool) {
	if c == nil || roomID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.pending[roomID]; ok {
		prev.timer.Stop()
	}
	entry := &pendingCleanup{authorized: authorized}
	entry.timer = time.AfterFunc(c.grace, func() { c.fire(roomID, entry) })
	c.pending[roomID] = entry

	logger.Debug("[CleanupScheduler] Cleanup scheduled",
		zap.String("room", roomID), zap.Duration("grace", c.grace))
}

// Cancel stops the pending timer for roomID. It reports whether one existed.
func (c *CleanupScheduler) Cancel(roomID string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.pending[roomID]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(c.pending, roomID)
	logger.Debug("[CleanupScheduler] Cleanup cancelled", zap.String("room", roomID))
	return true
}

// CancelAll stops every pending timer and returns how many there were.
func (c *CleanupScheduler) CancelAll() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.pending)
	for roomID, entry := range c.pending {
		entry.timer.Stop()
		delete(c.pending, roomID)
	}
	if n > 0 {
		logger.Info("[CleanupScheduler] Cancelled pending cleanups", zap.Int("count", n))
	}
	return n
}

func (c *CleanupScheduler) Pending(roomID string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[roomID]
	return ok
}

// Immediate drops any pending timer and runs the check now.
func (c *CleanupScheduler) Immediate(ctx context.Context, roomID string) {
	if c == nil {
		return
	}
	c.Cancel(roomID)
	c.check(ctx, roomID)
}

func (c *CleanupScheduler) fire(roomID string, entry *pendingCleanup) {
	c.mu.Lock()
	if c.pending[roomID] != entry {
		c.mu.Unlock()
		return
	}
	delete(c.pending, roomID)
	c.mu.Unlock()

	if entry.authorized != nil && !entry.authorized() {
		logger.Debug("[CleanupScheduler] Scheduler no longer authorized, skipping", zap.String("room", roomID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupCheckTimeout)
	defer cancel()
	c.check(ctx, roomID)
}

// check re-reads the room and deletes it if nobody is listed. Store errors
// end the check; they are logged and never returned.
func (c *CleanupScheduler) check(ctx context.Context, roomID string) {
	data, err := c.store.Get(ctx, roomID)
	if err != nil {
		logStoreError("[CleanupScheduler] Could not read room", roomID, err)
		return
	}

	count, err := internal.CountParticipants(data)
	if err != nil {
		logger.Warn("[CleanupScheduler] Unreadable room document, leaving it alone",
			zap.String("room", roomID), zap.Error(err))
		return
	}
	if count > 0 {
		logger.Debug("[CleanupScheduler] Room is not empty anymore",
			zap.String("room", roomID), zap.Int("participants", count))
		return
	}

	if err := c.store.Remove(ctx, store.RoomPath(roomID)); err != nil {
		logStoreError("[CleanupScheduler] Could not delete room", roomID, err)
		return
	}
	logger.Info("[CleanupScheduler] Deleted empty room", zap.String("room", roomID))
}

// logStoreError logs expected store failures quietly and the rest loudly.
func logStoreError(msg, roomID string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		logger.Debug(msg+": already gone", zap.String("room", roomID))
	case store.IsBenign(err):
		logger.Warn(msg, zap.String("room", roomID), zap.Error(err))
	default:
		logger.Error(msg, zap.String("room", roomID), zap.Error(err))
	}
}
