package game

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/scythe504/planning-poker-backend/internal"
	"github.com/scythe504/planning-poker-backend/internal/auth"
	"github.com/scythe504/planning-poker-backend/internal/store"
	"github.com/stretchr/testify/require"
)

const (
	testRoom    = "rapido-equipo-42"
	waitTimeout = 2 * time.Second
)

// tickingClock returns strictly increasing times so round ids never collide.
func tickingClock() func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return time.Now().Add(time.Duration(n.Add(1)) * time.Millisecond)
	}
}

type env struct {
	store   *store.MemoryStore
	// wrapped, when set, is what sessions talk to in place of store.
	wrapped store.RoomStore
	cleanup *CleanupScheduler
	hooks   *store.DisconnectHooks
	notices *auth.Notices
	cfg     Config
	now     func() time.Time
}

func newEnv() *env {
	s := store.NewMemoryStore()
	return &env{
		store:   s,
		cleanup: NewCleanupScheduler(s, time.Hour),
		hooks:   store.NewDisconnectHooks(),
		notices: auth.NewNotices(),
		cfg: Config{
			VoteTimeout:    internal.VoteTimeout,
			LoadingTimeout: time.Second,
			PublicBaseURL:  "http://localhost:3000",
		},
		now: tickingClock(),
	}
}

func (e *env) deps() Deps {
	var s store.RoomStore = e.store
	if e.wrapped != nil {
		s = e.wrapped
	}
	return Deps{
		Store:   s,
		Cleanup: e.cleanup,
		Hooks:   e.hooks,
		Notices: e.notices,
		Config:  e.cfg,
		Now:     e.now,
	}
}

type session struct {
	ctrl      *Controller
	views     chan RoomView
	kicked    chan struct{}
	deleted   chan struct{}
	signedOut chan struct{}
}

func signal(ch chan struct{}) func() {
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (e *env) open(t *testing.T, uid, name string) *session {
	t.Helper()
	return e.openConn(t, uid, name, "conn-"+uid)
}

// openConn opens a session on an explicit connection id, for users with more
// than one socket.
func (e *env) openConn(t *testing.T, uid, name, connID string) *session {
	t.Helper()
	s := &session{
		views:     make(chan RoomView, 256),
		kicked:    make(chan struct{}),
		deleted:   make(chan struct{}),
		signedOut: make(chan struct{}),
	}
	cb := Callbacks{
		OnChange: func(v RoomView) {
			select {
			case s.views <- v:
			default:
			}
		},
		OnKicked:      signal(s.kicked),
		OnRoomDeleted: signal(s.deleted),
		OnSignedOut:   signal(s.signedOut),
	}
	s.ctrl = NewController(testRoom, auth.Identity{UID: uid, DisplayName: name}, connID, e.deps(), cb)
	require.NoError(t, s.ctrl.Open(context.Background()))
	t.Cleanup(s.ctrl.Close)
	return s
}

// waitView drains views until one satisfies pred.
func (s *session) waitView(t *testing.T, pred func(RoomView) bool) RoomView {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case v := <-s.views:
			if pred(v) {
				return v
			}
		case <-deadline:
			t.Fatalf("timed out waiting for view of %s", s.ctrl.User().UID)
			return RoomView{}
		}
	}
}

// waitJoined waits until the session sees itself listed in the room.
func (s *session) waitJoined(t *testing.T) RoomView {
	t.Helper()
	return s.waitView(t, func(v RoomView) bool {
		for _, p := range v.Participants {
			if p.IsSelf {
				return true
			}
		}
		return false
	})
}

func waitSignal(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func (e *env) room(t *testing.T) *internal.Room {
	t.Helper()
	data, err := e.store.Get(context.Background(), testRoom)
	require.NoError(t, err)
	room, err := internal.DecodeRoom(data)
	require.NoError(t, err)
	return room
}

// faultyStore fails reads and writes with a fixed error.
type faultyStore struct {
	store.RoomStore
	err     error
	removes atomic.Int32
}

func (f *faultyStore) Get(ctx context.Context, roomID string) ([]byte, error) {
	return nil, f.err
}

func (f *faultyStore) Remove(ctx context.Context, path string) error {
	f.removes.Add(1)
	return f.err
}
