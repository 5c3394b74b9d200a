package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/scythe504/planning-poker-backend/internal"
	"github.com/scythe504/planning-poker-backend/internal/auth"
	"github.com/scythe504/planning-poker-backend/internal/shared/logger"
	"github.com/scythe504/planning-poker-backend/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const removalTimeout = 10 * time.Second

type State int

const (
	StateDisconnected State = iota
	StateSubscribing
	StateJoined
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSubscribing:
		return "subscribing"
	case StateJoined:
		return "joined"
	case StateError:
		return "error"
	}
	return "unknown"
}

type Config struct {
	VoteTimeout    time.Duration
	LoadingTimeout time.Duration
	PublicBaseURL  string
}

type Deps struct {
	Store   store.RoomStore
	Cleanup *CleanupScheduler
	Hooks   *store.DisconnectHooks
	Notices *auth.Notices
	Config  Config
	Now     func() time.Time
}

// Callbacks are invoked from the session's event goroutine, except
// OnSignedOut which runs on the deadline timer's goroutine.
type Callbacks struct {
	OnChange      func(RoomView)
	OnKicked      func()
	OnRoomDeleted func()
	OnSignedOut   func()
}

// Controller is one user's session in one room over one connection. It
// mirrors the shared room document, joins on the first snapshot and turns
// user intents into store writes.
type Controller struct {
	roomID string
	user   auth.Identity
	connID string
	deps   Deps
	cb     Callbacks

	timeout *TimeoutSupervisor

	mu        sync.RWMutex
	room      *internal.Room
	state     State
	err       error
	opened    bool
	closed    bool
	seen      bool
	existed   bool
	joined    bool
	wasInRoom bool
	leaving   bool
	lastCount int

	sub       *store.Subscription
	cancel    context.CancelFunc
	loaded    chan struct{}
	loadOnce  sync.Once
	loadTimer *time.Timer
	closeOnce sync.Once
}

func NewController(roomID string, user auth.Identity, connID string, deps Deps, cb Callbacks) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Hooks == nil {
		deps.Hooks = store.NewDisconnectHooks()
	}
	if deps.Config.VoteTimeout <= 0 {
		deps.Config.VoteTimeout = internal.VoteTimeout
	}
	if deps.Config.LoadingTimeout <= 0 {
		deps.Config.LoadingTimeout = internal.LoadingTimeout
	}

	c := &Controller{
		roomID:    roomID,
		user:      user,
		connID:    connID,
		deps:      deps,
		cb:        cb,
		lastCount: -1,
		loaded:    make(chan struct{}),
	}
	c.timeout = NewTimeoutSupervisor(deps.Config.VoteTimeout, deps.Now, c.forceSignOut)
	return c
}

func (c *Controller) RoomID() string {
	return c.roomID
}

func (c *Controller) User() auth.Identity {
	return c.user
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err is the subscription failure that put the session into StateError.
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Room returns the last decoded snapshot, nil before the first one or after
// the room was deleted. The returned room must not be modified.
func (c *Controller) Room() *internal.Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *Controller) View() RoomView {
	c.mu.RLock()
	room := c.room
	c.mu.RUnlock()
	return BuildView(c.roomID, room, c.user.UID, c.deps.Config.VoteTimeout, c.deps.Config.PublicBaseURL)
}

func (c *Controller) authenticated() bool {
	return c.user.UID != "" && c.roomID != ""
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Open subscribes to the room and starts handling its snapshots.
func (c *Controller) Open(ctx context.Context) error {
	if !c.authenticated() {
		c.markLoaded()
		return ErrNotAuthenticated
	}

	c.mu.Lock()
	if c.opened || c.closed {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.opened = true
	c.state = StateSubscribing
	c.mu.Unlock()

	// Held from the start so a sibling connection of the same user that drops
	// before our first snapshot cannot take our entry with it.
	c.registerHooks()

	loopCtx, cancel := context.WithCancel(ctx)
	sub, err := c.deps.Store.Subscribe(loopCtx, c.roomID)
	if err != nil {
		cancel()
		c.deps.Hooks.Cancel(c.connID)
		c.setError(err)
		c.markLoaded()
		logger.Error("[Open] Failed to subscribe to room",
			zap.String("room", c.roomID), zap.String("user", c.user.UID), zap.Error(err))
		return err
	}

	c.mu.Lock()
	c.sub = sub
	c.cancel = cancel
	c.loadTimer = time.AfterFunc(c.deps.Config.LoadingTimeout, func() {
		select {
		case <-c.loaded:
		default:
			logger.Warn("[Open] Loading timed out", zap.String("room", c.roomID))
			c.markLoaded()
		}
	})
	c.mu.Unlock()

	logger.Info("[Open] Session subscribed",
		zap.String("room", c.roomID), zap.String("user", c.user.UID), zap.String("conn", c.connID))

	go c.run(loopCtx, sub)
	return nil
}

// WaitLoaded blocks until the first snapshot was handled, the subscription
// failed, or loading timed out.
func (c *Controller) WaitLoaded(ctx context.Context) error {
	select {
	case <-c.loaded:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close unsubscribes and stops the deadline timer. Nothing is written to the
// store after Close returns, except removals already in flight.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.state != StateError {
			c.state = StateDisconnected
		}
		sub, cancel, loadTimer := c.sub, c.cancel, c.loadTimer
		c.mu.Unlock()

		if sub != nil {
			sub.Close()
		}
		if cancel != nil {
			cancel()
		}
		if loadTimer != nil {
			loadTimer.Stop()
		}
		c.timeout.Stop()
		c.markLoaded()

		logger.Debug("[Close] Session closed",
			zap.String("room", c.roomID), zap.String("user", c.user.UID), zap.String("conn", c.connID))
	})
}

func (c *Controller) markLoaded() {
	c.loadOnce.Do(func() { close(c.loaded) })
}

func (c *Controller) setError(err error) {
	c.mu.Lock()
	c.state = StateError
	c.err = err
	c.mu.Unlock()
}

func (c *Controller) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// =============================================================================
// SNAPSHOT HANDLING
// =============================================================================

func (c *Controller) run(ctx context.Context, sub *store.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if c.isClosed() {
				return
			}
			c.handle(ctx, ev)
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev store.Event) {
	defer c.markLoaded()

	if ev.Err != nil {
		c.setError(ev.Err)
		logger.Error("[handle] Room subscription failed",
			zap.String("room", c.roomID), zap.Error(ev.Err))
		return
	}
	if ev.Data == nil {
		c.handleAbsent(ctx)
		return
	}

	room, err := internal.DecodeRoom(ev.Data)
	if err != nil {
		logger.Warn("[handle] Ignoring undecodable room snapshot",
			zap.String("room", c.roomID), zap.Error(err))
		return
	}
	count, err := internal.CountParticipants(ev.Data)
	if err != nil {
		count = room.GetParticipantCount()
	}

	uid := c.user.UID
	inRoom := room.HasParticipant(uid)

	c.mu.Lock()
	c.seen = true
	c.existed = true
	c.room = room
	kicked := c.wasInRoom && !inRoom && !c.leaving
	needJoin := !inRoom && !c.joined && !c.leaving
	if inRoom {
		c.wasInRoom = true
		c.state = StateJoined
	}
	if kicked {
		c.wasInRoom = false
		c.leaving = true
		c.state = StateDisconnected
	}
	if needJoin {
		// wasInRoom is only set by a snapshot that lists us.
		c.joined = true
	}
	prevCount := c.lastCount
	c.lastCount = count
	leaving := c.leaving
	c.mu.Unlock()

	if kicked {
		logger.Info("[handle] Participant was removed from the room",
			zap.String("room", c.roomID), zap.String("user", uid))
		c.deps.Hooks.Cancel(c.connID)
		c.timeout.Cancel()
		if c.cb.OnKicked != nil {
			c.cb.OnKicked()
		}
		return
	}

	if inRoom {
		// Also covers a reconnect that found us already listed and never joined.
		c.registerHooks()
	}

	if count > 0 {
		c.deps.Cleanup.Cancel(c.roomID)
	} else if prevCount != 0 {
		c.deps.Cleanup.Schedule(c.roomID)
	}

	if needJoin {
		c.join(ctx)
	}

	if leaving {
		c.timeout.Cancel()
	} else {
		c.timeout.Rearm(room, uid)
	}

	if c.cb.OnChange != nil {
		c.cb.OnChange(c.View())
	}
}

// handleAbsent seeds a room seen missing on the first snapshot. A room that
// disappears later was deleted and is not brought back.
func (c *Controller) handleAbsent(ctx context.Context) {
	c.mu.Lock()
	first := !c.seen
	existed := c.existed
	c.seen = true
	c.existed = false
	c.room = nil
	if existed {
		c.leaving = true
		c.state = StateDisconnected
	}
	leaving := c.leaving
	c.mu.Unlock()

	switch {
	case existed:
		logger.Info("[handleAbsent] Room no longer exists", zap.String("room", c.roomID))
		c.deps.Hooks.Cancel(c.connID)
		c.timeout.Cancel()
		if c.cb.OnRoomDeleted != nil {
			c.cb.OnRoomDeleted()
		}
	case first && !leaving:
		// Two sessions may both seed a missing room; the later write wins and
		// both end up in the same fresh room.
		room := internal.NewRoom(c.user.UID, c.deps.Now())
		if err := c.deps.Store.Set(ctx, store.RoomPath(c.roomID), room); err != nil {
			logStoreError("[handleAbsent] Could not create room", c.roomID, err)
			return
		}
		logger.Info("[handleAbsent] Created room",
			zap.String("room", c.roomID), zap.String("creator", c.user.UID))
	}
}

func (c *Controller) join(ctx context.Context) {
	name := internal.NormalizeName(c.user.Label(), internal.MaxNameLength)
	if name == "" {
		name = internal.DefaultDisplayName
	}
	p := internal.NewParticipant(c.user.UID, name, c.deps.Now())

	c.registerHooks()

	if err := c.deps.Store.Set(ctx, store.ParticipantPath(c.roomID, c.user.UID), p); err != nil {
		logStoreError("[join] Could not add participant", c.roomID, err)
		return
	}
	logger.Info("[join] Participant joined",
		zap.String("room", c.roomID), zap.String("user", c.user.UID), zap.String("name", name))
}

// registerHooks ties our participant entry to this connection. Other live
// connections of the same user keep it alive when this one drops. Nothing is
// registered once the session is leaving or closed, so a late snapshot cannot
// undo a Cancel or Fire.
func (c *Controller) registerHooks() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.leaving {
		return
	}
	c.deps.Hooks.Register(c.connID,
		store.ParticipantPath(c.roomID, c.user.UID),
		store.VotePath(c.roomID, c.user.UID))
}

// =============================================================================
// LEAVING
// =============================================================================

// LeaveRoom removes the caller from the room. It never fails: removal errors
// are logged. Calling it again is harmless.
func (c *Controller) LeaveRoom(ctx context.Context) {
	if !c.authenticated() || c.isClosed() {
		return
	}

	c.mu.Lock()
	c.leaving = true
	c.mu.Unlock()

	c.timeout.Cancel()
	c.removeSelf(ctx, "[LeaveRoom]")
	c.deps.Hooks.Cancel(c.connID)

	c.mu.Lock()
	c.joined = false
	c.wasInRoom = false
	if c.state != StateError {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	c.deps.Cleanup.Schedule(c.roomID)
	logger.Info("[LeaveRoom] Participant left",
		zap.String("room", c.roomID), zap.String("user", c.user.UID))
}

// KickUser removes another participant. Only the creator may kick, and not
// themselves; anyone else gets a silent no-op.
func (c *Controller) KickUser(ctx context.Context, targetID string) error {
	if !c.authenticated() || c.isClosed() {
		return nil
	}
	room := c.Room()
	if room == nil || !room.IsCreator(c.user.UID) {
		logger.Debug("[KickUser] Only the room creator can kick", zap.String("room", c.roomID))
		return nil
	}
	if targetID == "" || targetID == c.user.UID {
		return nil
	}

	var g errgroup.Group
	g.Go(func() error { return c.deps.Store.Remove(ctx, store.ParticipantPath(c.roomID, targetID)) })
	g.Go(func() error { return c.deps.Store.Remove(ctx, store.VotePath(c.roomID, targetID)) })
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("[KickUser] Participant kicked",
		zap.String("room", c.roomID), zap.String("target", targetID))
	return nil
}

// forceSignOut runs when the caller's voting deadline passes.
func (c *Controller) forceSignOut() {
	c.mu.Lock()
	if c.closed || c.leaving {
		c.mu.Unlock()
		return
	}
	c.leaving = true
	c.mu.Unlock()

	now := c.deps.Now()
	logger.Info("[forceSignOut] Vote deadline passed, removing participant",
		zap.String("room", c.roomID), zap.String("user", c.user.UID))

	ctx, cancel := context.WithTimeout(context.Background(), removalTimeout)
	defer cancel()
	c.removeSelf(ctx, "[forceSignOut]")
	c.deps.Hooks.Cancel(c.connID)

	if c.deps.Notices != nil {
		c.deps.Notices.Record(c.user.UID, now)
	}

	c.mu.Lock()
	c.joined = false
	c.wasInRoom = false
	c.state = StateDisconnected
	c.mu.Unlock()

	c.deps.Cleanup.Schedule(c.roomID)
	if c.cb.OnSignedOut != nil {
		c.cb.OnSignedOut()
	}
}

// removeSelf attempts both removals independently and only logs failures.
func (c *Controller) removeSelf(ctx context.Context, caller string) {
	paths := []string{
		store.ParticipantPath(c.roomID, c.user.UID),
		store.VotePath(c.roomID, c.user.UID),
	}

	var wg sync.WaitGroup
	for _, path := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			if err := c.deps.Store.Remove(ctx, path); err != nil {
				if store.IsBenign(err) || errors.Is(err, context.DeadlineExceeded) {
					logger.Warn(caller+" Removal failed", zap.String("path", path), zap.Error(err))
					return
				}
				logger.Error(caller+" Removal failed", zap.String("path", path), zap.Error(err))
			}
		}(path)
	}
	wg.Wait()
}
