package internal

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// DecodeRoom projects a raw room document into a Room. Participant entries
// without an id or with a blank name are dropped, as are votes that no longer
// belong to a listed participant. Nothing is repaired in the store.
func DecodeRoom(data []byte) (*Room, error) {
	var raw struct {
		Participants map[string]json.RawMessage `json:"participants"`
		Votes        map[string]json.RawMessage `json:"votes"`
		GameState    *GameState                 `json:"gameState"`
		StoryName    any                        `json:"storyName"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}

	room := &Room{
		Participants: make(map[string]Participant, len(raw.Participants)),
		Votes:        make(map[string]VoteValue, len(raw.Votes)),
	}

	for key, entry := range raw.Participants {
		var p Participant
		if err := json.Unmarshal(entry, &p); err != nil {
			continue
		}
		if p.Id == "" || strings.TrimSpace(p.Name) == "" {
			continue
		}
		room.Participants[key] = p
	}

	for key, entry := range raw.Votes {
		if _, ok := room.Participants[key]; !ok {
			continue
		}
		var v string
		if err := json.Unmarshal(entry, &v); err != nil {
			continue
		}
		room.Votes[key] = VoteValue(v)
	}

	if raw.GameState != nil {
		room.GameState = *raw.GameState
	}
	if s, ok := raw.StoryName.(string); ok {
		room.StoryName = s
	}

	return room, nil
}

// CountParticipants counts participant keys in a raw room document, valid or
// not. A room with only corrupt entries is still not empty.
func CountParticipants(data []byte) (int, error) {
	var raw struct {
		Participants map[string]json.RawMessage `json:"participants"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return len(raw.Participants), nil
}

// NormalizeName trims s and caps it at max runes.
func NormalizeName(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:max]))
}

// Methods (Room Struct)
func (r *Room) GetParticipantCount() int {
	return len(r.Participants)
}

func (r *Room) HasParticipant(id string) bool {
	_, ok := r.Participants[id]
	return ok
}

func (r *Room) IsCreator(id string) bool {
	return id != "" && r.GameState.CreatedBy == id
}

// SortedParticipants returns participants ordered by join time, then id.
func (r *Room) SortedParticipants() []Participant {
	list := make([]Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		list = append(list, p)
	}
	slices.SortFunc(list, func(a, b Participant) int {
		if a.JoinedAt != b.JoinedAt {
			if a.JoinedAt < b.JoinedAt {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Id, b.Id)
	})
	return list
}

func (r *Room) VotedCount() int {
	count := 0
	for _, p := range r.Participants {
		if p.HasVoted {
			count++
		}
	}
	return count
}

// CanReveal reports whether the creator may reveal: every non-creator
// participant has voted (the creator's own vote is optional), or literally
// everyone has voted. There must be at least one required voter.
func (r *Room) CanReveal() bool {
	nonCreators, nonCreatorsVoted := 0, 0
	for id, p := range r.Participants {
		if r.IsCreator(id) {
			continue
		}
		nonCreators++
		if p.HasVoted {
			nonCreatorsVoted++
		}
	}
	if nonCreators > 0 && nonCreatorsVoted == nonCreators {
		return true
	}
	total := len(r.Participants)
	return total > 0 && r.VotedCount() == total
}
