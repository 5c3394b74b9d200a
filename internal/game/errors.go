package game

import "errors"

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrAlreadyOpen      = errors.New("session already opened")
	ErrNotInRoom        = errors.New("not a participant of this room")
	ErrInvalidVote      = errors.New("invalid vote value")
	ErrVotingClosed     = errors.New("votes are already revealed")
	ErrInvalidName      = errors.New("name must not be empty")
	ErrInvalidStoryName = errors.New("story name must not be empty")
	ErrRoomIdInvalid    = errors.New("invalid room id")
	ErrRateLimited      = errors.New("too many messages")
)
