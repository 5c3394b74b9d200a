package game

import (
	"sync"
	"time"

	"github.com/scythe504/planning-poker-backend/internal"
	"github.com/scythe504/planning-poker-backend/internal/shared/logger"
	"go.uber.org/zap"
)

// =============================================================================
// VOTE TIMEOUT
// =============================================================================

// Deadline returns when userID's voting time runs out. There is none for the
// creator, for someone who already voted, after reveal, or before the first
// vote of the round started the clock.
func Deadline(room *internal.Room, userID string, budget time.Duration) (time.Time, bool) {
	if room == nil || userID == "" {
		return time.Time{}, false
	}
	p, ok := room.Participants[userID]
	if !ok || p.HasVoted || room.IsCreator(userID) {
		return time.Time{}, false
	}
	gs := room.GameState
	if gs.IsRevealed || gs.VoteStartedAt == nil {
		return time.Time{}, false
	}
	return internal.FromMillis(*gs.VoteStartedAt).Add(budget), true
}

// TimeoutSupervisor holds at most one pending deadline for a session. Every
// Rearm cancels the previous timer first; a timer that was replaced or
// cancelled never fires.
type TimeoutSupervisor struct {
	mu       sync.Mutex
	budget   time.Duration
	now      func() time.Time
	onExpire func()

	timer    *time.Timer
	deadline time.Time
	gen      uint64
	stopped  bool
}

func NewTimeoutSupervisor(budget time.Duration, now func() time.Time, onExpire func()) *TimeoutSupervisor {
	if now == nil {
		now = time.Now
	}
	return &TimeoutSupervisor{
		budget:   budget,
		now:      now,
		onExpire: onExpire,
	}
}

// Rearm recomputes the deadline for userID from room. A deadline already in
// the past fires right away on its own goroutine.
func (s *TimeoutSupervisor) Rearm(room *internal.Room, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()
	if s.stopped {
		return
	}
	deadline, ok := Deadline(room, userID, s.budget)
	if !ok {
		return
	}

	gen := s.gen
	wait := deadline.Sub(s.now())
	if wait < 0 {
		wait = 0
	}
	s.deadline = deadline
	s.timer = time.AfterFunc(wait, func() { s.fire(gen) })
	logger.Debug("[TimeoutSupervisor] Deadline armed",
		zap.String("user", userID), zap.Duration("remaining", wait))
}

func (s *TimeoutSupervisor) fire(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.deadline = time.Time{}
	s.gen++
	s.mu.Unlock()

	if s.onExpire != nil {
		s.onExpire()
	}
}

// Cancel drops the pending deadline. Later Rearm calls still work.
func (s *TimeoutSupervisor) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

// Stop cancels for good.
func (s *TimeoutSupervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.cancelLocked()
}

// Armed reports the pending deadline, if any.
func (s *TimeoutSupervisor) Armed() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline, s.timer != nil
}

func (s *TimeoutSupervisor) cancelLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.deadline = time.Time{}
	s.gen++
}
