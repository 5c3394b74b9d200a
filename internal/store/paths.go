package store

import (
	"fmt"
	"strings"
)

const roomsRoot = "rooms"

func RoomPath(roomID string) string {
	return roomsRoot + "/" + roomID
}

func ParticipantPath(roomID, userID string) string {
	return RoomPath(roomID) + "/participants/" + userID
}

func ParticipantFieldPath(roomID, userID, field string) string {
	return ParticipantPath(roomID, userID) + "/" + field
}

func VotesPath(roomID string) string {
	return RoomPath(roomID) + "/votes"
}

func VotePath(roomID, userID string) string {
	return VotesPath(roomID) + "/" + userID
}

func GameStatePath(roomID string) string {
	return RoomPath(roomID) + "/gameState"
}

func GameStateFieldPath(roomID, field string) string {
	return GameStatePath(roomID) + "/" + field
}

func StoryNamePath(roomID string) string {
	return RoomPath(roomID) + "/storyName"
}

// ParsePath splits a store path into the room id and the keys below the room
// document. rest is empty when path names the room itself.
func ParsePath(path string) (roomID string, rest []string, err error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] != roomsRoot {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return "", nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return parts[1], parts[2:], nil
}
