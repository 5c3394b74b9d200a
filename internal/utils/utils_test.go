package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRoomIDIsValid(t *testing.T) {
	for i := 0; i < 500; i++ {
		id := GenerateRoomID()
		assert.True(t, IsValidRoomID(id), "generated id %q should be valid", id)
	}
}

func TestIsValidRoomID(t *testing.T) {
	valid := []string{"rapido-equipo-42", "azul-dev-1", "mega-team-999"}
	invalid := []string{"", "rapido-equipo", "rapido-equipo-1000", "Rapido-equipo-4", "rapido_equipo_4", "rapido-equipo-4/..", "a-b-c"}

	for _, id := range valid {
		assert.True(t, IsValidRoomID(id), id)
	}
	for _, id := range invalid {
		assert.False(t, IsValidRoomID(id), id)
	}
}

func TestShareableURL(t *testing.T) {
	assert.Equal(t, "https://poker.example.com/room/rapido-equipo-42", ShareableURL("https://poker.example.com/", "rapido-equipo-42"))
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(12), GenerateID(12)
	assert.Len(t, a, 12)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^[0-9a-z]+$`, a)
}
