package internal

import "encoding/json"

type Message[T any] struct {
	Type string `json:"type"`
	Data T      `json:"data"`
}

// Client -> server message types
const (
	MsgVote            = "vote"
	MsgRevealVotes     = "reveal_votes"
	MsgResetRound      = "reset_round"
	MsgUpdateStoryName = "update_story_name"
	MsgUpdateName      = "update_name"
	MsgKickUser        = "kick_user"
	MsgLeaveRoom       = "leave_room"
)

// Server -> client message types
const (
	MsgRoomState   = "room_state"
	MsgKicked      = "kicked"
	MsgRoomDeleted = "room_deleted"
	MsgVoteTimeout = "vote_timeout"
	MsgError       = "error"
)

type ClientMessage = Message[json.RawMessage]

type ErrorData struct {
	Message string `json:"message"`
	Request string `json:"request,omitempty"`
}

type RoomClosedData struct {
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

type VoteTimeoutData struct {
	RoomID    string `json:"room_id"`
	Message   string `json:"message"`
	LoggedOut int64  `json:"logged_out_at_ms"`
}
