package game

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/scythe504/planning-poker-backend/internal"
	"github.com/scythe504/planning-poker-backend/internal/votes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "http://localhost:3000/"

func viewRoom(t0 time.Time) *internal.Room {
	room := internal.NewRoom("U1", t0)
	room.StoryName = "Login page"
	room.Participants["U1"] = internal.NewParticipant("U1", "Ana", t0)
	room.Participants["U2"] = internal.NewParticipant("U2", "Bea", t0.Add(time.Second))
	room.Participants["U3"] = internal.NewParticipant("U3", "Cid", t0.Add(2*time.Second))
	for id, v := range map[string]internal.VoteValue{"U2": "5", "U3": "8"} {
		p := room.Participants[id]
		p.HasVoted = true
		room.Participants[id] = p
		room.Votes[id] = v
	}
	return room
}

func TestBuildViewHidesVotesUntilReveal(t *testing.T) {
	t0 := time.UnixMilli(1_700_000_000_000)
	ms := t0.UnixMilli()

	got := BuildView(testRoom, viewRoom(t0), "U2", internal.VoteTimeout, baseURL)
	want := RoomView{
		RoomID:    testRoom,
		StoryName: "Login page",
		Participants: []internal.ParticipantView{
			{ID: "U1", Name: "Ana", JoinedAt: ms, IsCreator: true},
			{ID: "U2", Name: "Bea", HasVoted: true, JoinedAt: ms + 1000, IsSelf: true, Vote: "5"},
			{ID: "U3", Name: "Cid", HasVoted: true, JoinedAt: ms + 2000},
		},
		VotedCount:   2,
		TotalCount:   3,
		PendingCount: 1,
		Progress:     67,
		CanReveal:    true,
		CreatorID:    "U1",
		RoundID:      internal.RoundID(t0),
		MyVote:       "5",
		ShareURL:     "http://localhost:3000/room/" + testRoom,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BuildView() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildViewAfterReveal(t *testing.T) {
	t0 := time.UnixMilli(1_700_000_000_000)
	room := viewRoom(t0)
	room.GameState.IsRevealed = true

	got := BuildView(testRoom, room, "U1", internal.VoteTimeout, baseURL)

	assert.True(t, got.IsRevealed)
	assert.True(t, got.IsCreator)
	assert.Empty(t, got.MyVote)

	wantVotes := map[string]internal.VoteValue{"U2": "5", "U3": "8"}
	if diff := cmp.Diff(wantVotes, got.Votes); diff != "" {
		t.Errorf("votes mismatch (-want +got):\n%s", diff)
	}

	wantStats := &votes.Summary{
		Average:      6.5,
		HasAverage:   true,
		Distribution: map[internal.VoteValue]int{"5": 1, "8": 1},
		MostCommon:   "5",
		TotalVotes:   2,
	}
	if diff := cmp.Diff(wantStats, got.Statistics); diff != "" {
		t.Errorf("statistics mismatch (-want +got):\n%s", diff)
	}

	for _, p := range got.Participants {
		assert.Equal(t, room.Votes[p.ID], p.Vote, "participant %s", p.ID)
	}

	// The view owns its vote map.
	got.Votes["U2"] = "1"
	assert.Equal(t, internal.VoteValue("5"), room.Votes["U2"])
}

func TestBuildViewDeadline(t *testing.T) {
	t0 := time.UnixMilli(1_700_000_000_000)
	room := viewRoom(t0)
	room.GameState.VoteStartedAt = internal.Millis(t0)
	room.Participants["U4"] = internal.NewParticipant("U4", "Dan", t0.Add(3*time.Second))

	pending := BuildView(testRoom, room, "U4", internal.VoteTimeout, baseURL)
	require.NotNil(t, pending.VoteDeadline)
	assert.Equal(t, t0.Add(internal.VoteTimeout).UnixMilli(), *pending.VoteDeadline)
	assert.False(t, pending.CanReveal)

	assert.Nil(t, BuildView(testRoom, room, "U2", internal.VoteTimeout, baseURL).VoteDeadline)
	assert.Nil(t, BuildView(testRoom, room, "U1", internal.VoteTimeout, baseURL).VoteDeadline)
}

func TestBuildViewWithoutRoom(t *testing.T) {
	got := BuildView(testRoom, nil, "U1", internal.VoteTimeout, baseURL)
	want := RoomView{RoomID: testRoom, ShareURL: "http://localhost:3000/room/" + testRoom}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("BuildView(nil) mismatch (-want +got):\n%s", diff)
	}
}
