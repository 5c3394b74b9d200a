package utils

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// =============================================================================
// ROOM IDS
// =============================================================================

var (
	adjectives = []string{
		"rapido", "agil", "smart", "cool", "pro", "top", "max", "super", "mega", "ultra",
		"azul", "verde", "rojo", "dorado", "plata", "negro", "blanco", "rosa", "morado",
	}

	nouns = []string{
		"equipo", "grupo", "squad", "team", "crew", "banda", "clan", "guild", "party",
		"dev", "code", "app", "web", "tech", "digital", "cyber", "pixel", "byte",
	}

	roomIdPattern = regexp.MustCompile(`^[a-z]+-[a-z]+-\d{1,3}$`)
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateRoomID returns a shareable id of the form adjective-noun-number.
func GenerateRoomID() string {
	adjective := adjectives[rand.IntN(len(adjectives))]
	noun := nouns[rand.IntN(len(nouns))]
	number := rand.IntN(999) + 1
	return fmt.Sprintf("%s-%s-%d", adjective, noun, number)
}

func IsValidRoomID(roomId string) bool {
	return roomIdPattern.MatchString(roomId)
}

// ShareableURL builds the link other participants open to join.
func ShareableURL(baseURL, roomId string) string {
	return strings.TrimRight(baseURL, "/") + "/room/" + roomId
}

// GenerateID returns a random lowercase alphanumeric id of the given length.
func GenerateID(length int) string {
	id, err := gonanoid.Generate(idAlphabet, length)
	if err != nil {
		// Only fails for invalid alphabet/length arguments.
		return gonanoid.Must(length)
	}
	return id
}
