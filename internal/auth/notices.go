package auth

import (
	"sync"
	"time"
)

const ReasonVoteTimeout = "vote_timeout"

// Notice explains why a user was signed out.
type Notice struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Notices holds at most one pending notice per user. A notice is shown once.
type Notices struct {
	mu      sync.Mutex
	pending map[string]Notice
}

func NewNotices() *Notices {
	return &Notices{pending: make(map[string]Notice)}
}

// Record stores a vote-timeout sign-out for uid, replacing any earlier one.
func (n *Notices) Record(uid string, at time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending[uid] = Notice{Reason: ReasonVoteTimeout, At: at}
}

// Consume returns and clears the pending notice for uid.
func (n *Notices) Consume(uid string) (Notice, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	notice, ok := n.pending[uid]
	if ok {
		delete(n.pending, uid)
	}
	return notice, ok
}
