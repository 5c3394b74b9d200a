package internal

import (
	"fmt"
	"time"
)

const (
	VoteTimeout          = 5 * time.Minute
	EmptyRoomGracePeriod = 30 * time.Second
	LoadingTimeout       = 15 * time.Second
	MaxNameLength        = 50
	MaxStoryNameLength   = 100
	DefaultDisplayName   = "Anonymous"
)

type VoteValue string

const CoffeeVote VoteValue = "☕"

// VoteOptions is the deck, in the order cards are shown.
var VoteOptions = []VoteValue{"0.5", "1", "2", "3", "5", "8", CoffeeVote}

func IsValidVote(v VoteValue) bool {
	for _, option := range VoteOptions {
		if option == v {
			return true
		}
	}
	return false
}

type Participant struct {
	Id            string `json:"id"`
	Name          string `json:"name"`
	HasVoted      bool   `json:"hasVoted"`
	JoinedAt      int64  `json:"joinedAt"`
	LastSeen      *int64 `json:"lastSeen,omitempty"`
	VoteStartedAt *int64 `json:"voteStartedAt,omitempty"`
}

type GameState struct {
	IsRevealed    bool   `json:"isRevealed"`
	RoundId       string `json:"roundId"`
	CreatedAt     int64  `json:"createdAt"`
	VoteStartedAt *int64 `json:"voteStartedAt,omitempty"`
	CreatedBy     string `json:"createdBy,omitempty"`
}

// Room is the document stored under rooms/{roomId}.
type Room struct {
	Participants map[string]Participant `json:"participants"`
	Votes        map[string]VoteValue   `json:"votes"`
	GameState    GameState              `json:"gameState"`
	StoryName    string                 `json:"storyName"`
}

type Response struct {
	StatusCode    int   `json:"status_code"`
	RespStartTime int64 `json:"resp_time_start_ms"`
	RespEndTime   int64 `json:"resp_time_end_ms"`
	NetRespTime   int64 `json:"net_resp_time_ms"`
	Data          any   `json:"data"`
}

// RoundID derives a round identifier from its creation time.
func RoundID(at time.Time) string {
	return fmt.Sprintf("round_%d", at.UnixMilli())
}

// NewRoom seeds the initial document for a room created by creatorId.
func NewRoom(creatorId string, now time.Time) *Room {
	return &Room{
		Participants: make(map[string]Participant),
		Votes:        make(map[string]VoteValue),
		GameState:    NewGameState(creatorId, now),
		StoryName:    "",
	}
}

// NewGameState starts a fresh round. voteStartedAt stays unset until the
// first vote arrives.
func NewGameState(creatorId string, now time.Time) GameState {
	return GameState{
		IsRevealed: false,
		RoundId:    RoundID(now),
		CreatedAt:  now.UnixMilli(),
		CreatedBy:  creatorId,
	}
}

func NewParticipant(id, name string, now time.Time) Participant {
	return Participant{
		Id:       id,
		Name:     name,
		HasVoted: false,
		JoinedAt: now.UnixMilli(),
	}
}

func Millis(t time.Time) *int64 {
	ms := t.UnixMilli()
	return &ms
}

func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
