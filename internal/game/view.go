package game

import (
	"time"

	"github.com/scythe504/planning-poker-backend/internal"
	"github.com/scythe504/planning-poker-backend/internal/utils"
	"github.com/scythe504/planning-poker-backend/internal/votes"
)

// RoomView is what one participant sees of a room.
type RoomView struct {
	RoomID       string                        `json:"room_id"`
	StoryName    string                        `json:"story_name"`
	Participants []internal.ParticipantView    `json:"participants"`
	VotedCount   int                           `json:"voted_count"`
	TotalCount   int                           `json:"total_count"`
	PendingCount int                           `json:"pending_count"`
	Progress     int                           `json:"progress"`
	CanReveal    bool                          `json:"can_reveal"`
	IsRevealed   bool                          `json:"is_revealed"`
	IsCreator    bool                          `json:"is_creator"`
	CreatorID    string                        `json:"creator_id,omitempty"`
	RoundID      string                        `json:"round_id"`
	MyVote       internal.VoteValue            `json:"my_vote,omitempty"`
	Votes        map[string]internal.VoteValue `json:"votes,omitempty"`
	Statistics   *votes.Summary                `json:"statistics,omitempty"`
	VoteDeadline *int64                        `json:"vote_deadline_ms,omitempty"`
	ShareURL     string                        `json:"share_url"`
}

// BuildView projects room for viewerID. Votes of others and the statistics
// only appear once the round is revealed.
func BuildView(roomID string, room *internal.Room, viewerID string, budget time.Duration, baseURL string) RoomView {
	view := RoomView{
		RoomID:   roomID,
		ShareURL: utils.ShareableURL(baseURL, roomID),
	}
	if room == nil {
		return view
	}

	sorted := room.SortedParticipants()
	view.Participants = make([]internal.ParticipantView, 0, len(sorted))
	for _, p := range sorted {
		view.Participants = append(view.Participants, internal.CreateParticipantView(room, p, viewerID))
	}

	view.StoryName = room.StoryName
	view.TotalCount = room.GetParticipantCount()
	view.VotedCount = room.VotedCount()
	view.PendingCount = view.TotalCount - view.VotedCount
	view.Progress = votes.Progress(view.VotedCount, view.TotalCount)
	view.CanReveal = room.CanReveal()
	view.IsRevealed = room.GameState.IsRevealed
	view.IsCreator = room.IsCreator(viewerID)
	view.CreatorID = room.GameState.CreatedBy
	view.RoundID = room.GameState.RoundId
	view.MyVote = room.Votes[viewerID]

	if view.IsRevealed {
		view.Votes = make(map[string]internal.VoteValue, len(room.Votes))
		for id, v := range room.Votes {
			view.Votes[id] = v
		}
		summary := votes.Summarize(room.Votes)
		view.Statistics = &summary
	}

	if deadline, ok := Deadline(room, viewerID, budget); ok {
		view.VoteDeadline = internal.Millis(deadline)
	}
	return view
}
