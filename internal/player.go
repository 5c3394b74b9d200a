package internal

// ParticipantView is the public projection of a participant sent to clients.
// Vote stays empty until the round is revealed, except for the viewer's own.
type ParticipantView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	HasVoted  bool      `json:"has_voted"`
	JoinedAt  int64     `json:"joined_at"`
	IsCreator bool      `json:"is_creator"`
	IsSelf    bool      `json:"is_self"`
	Vote      VoteValue `json:"vote,omitempty"`
}

func CreateParticipantView(r *Room, p Participant, viewerId string) ParticipantView {
	view := ParticipantView{
		ID:        p.Id,
		Name:      p.Name,
		HasVoted:  p.HasVoted,
		JoinedAt:  p.JoinedAt,
		IsCreator: r.IsCreator(p.Id),
		IsSelf:    p.Id == viewerId,
	}
	if r.GameState.IsRevealed || view.IsSelf {
		view.Vote = r.Votes[p.Id]
	}
	return view
}
