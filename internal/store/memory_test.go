package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roomID = "rapido-equipo-42"

func nextEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestMemoryStoreSubscribeDeliversInitialSnapshot(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sub, err := s.Subscribe(ctx, roomID)
	require.NoError(t, err)
	defer sub.Close()

	ev := nextEvent(t, sub)
	assert.Equal(t, roomID, ev.RoomID)
	assert.Nil(t, ev.Data, "absent room is delivered as nil data")
}

func TestMemoryStoreSetAndNotify(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sub, err := s.Subscribe(ctx, roomID)
	require.NoError(t, err)
	defer sub.Close()
	nextEvent(t, sub)

	require.NoError(t, s.Set(ctx, ParticipantPath(roomID, "u1"), map[string]any{"id": "u1", "name": "Ana"}))
	ev := nextEvent(t, sub)
	doc := decode(t, ev.Data)
	assert.Equal(t, "Ana", doc["participants"].(map[string]any)["u1"].(map[string]any)["name"])

	require.NoError(t, s.Set(ctx, ParticipantFieldPath(roomID, "u1", "hasVoted"), true))
	ev = nextEvent(t, sub)
	doc = decode(t, ev.Data)
	assert.Equal(t, true, doc["participants"].(map[string]any)["u1"].(map[string]any)["hasVoted"])
}

func TestMemoryStoreRemoveAbsentIsNoop(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	assert.NoError(t, s.Remove(ctx, VotePath(roomID, "ghost")))

	require.NoError(t, s.Set(ctx, VotePath(roomID, "u1"), "3"))
	assert.NoError(t, s.Remove(ctx, VotePath(roomID, "u1")))
	assert.NoError(t, s.Remove(ctx, VotePath(roomID, "u1")))
	assert.NoError(t, s.Remove(ctx, ParticipantPath(roomID, "nobody")))
}

func TestMemoryStoreGetAndDeleteRoom(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, roomID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, RoomPath(roomID), map[string]any{"storyName": "Login"}))
	data, err := s.Get(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, "Login", decode(t, data)["storyName"])

	require.NoError(t, s.Remove(ctx, RoomPath(roomID)))
	_, err = s.Get(ctx, roomID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreSetNilRemoves(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, StoryNamePath(roomID), "Checkout"))
	require.NoError(t, s.Set(ctx, StoryNamePath(roomID), nil))

	data, err := s.Get(ctx, roomID)
	require.NoError(t, err)
	_, ok := decode(t, data)["storyName"]
	assert.False(t, ok)
}

func TestMemoryStoreRejectsInvalidPaths(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	assert.ErrorIs(t, s.Set(ctx, "users/u1", "x"), ErrInvalidPath)
	assert.ErrorIs(t, s.Set(ctx, "rooms//votes", "x"), ErrInvalidPath)
	assert.ErrorIs(t, s.Set(ctx, RoomPath(roomID), "not-an-object"), ErrInvalidPath)
}

func TestSubscriptionCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sub, err := s.Subscribe(ctx, roomID)
	require.NoError(t, err)
	nextEvent(t, sub)

	sub.Close()
	sub.Close()

	require.NoError(t, s.Set(ctx, StoryNamePath(roomID), "After close"))
	_, ok := <-sub.Events()
	assert.False(t, ok, "events channel is closed after Close")
	assert.False(t, s.hub.HasSubscribers(roomID))
}

func TestHubConflatesForSlowSubscribers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sub, err := s.Subscribe(ctx, roomID)
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < subscriptionBuffer*3; i++ {
		require.NoError(t, s.Set(ctx, StoryNamePath(roomID), i))
	}

	var last Event
	for len(sub.Events()) > 0 {
		last = <-sub.Events()
	}
	assert.EqualValues(t, subscriptionBuffer*3-1, decode(t, last.Data)["storyName"])
}

func TestDisconnectHooks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	hooks := NewDisconnectHooks()

	require.NoError(t, s.Set(ctx, ParticipantPath(roomID, "u1"), map[string]any{"id": "u1", "name": "Ana"}))
	require.NoError(t, s.Set(ctx, VotePath(roomID, "u1"), "5"))

	hooks.Register("conn-1", ParticipantPath(roomID, "u1"), VotePath(roomID, "u1"))
	hooks.Register("conn-2", ParticipantPath(roomID, "u2"))
	hooks.Cancel("conn-2")
	assert.Empty(t, hooks.Pending("conn-2"))

	require.NoError(t, hooks.Fire(ctx, s, "conn-1"))
	data, err := s.Get(ctx, roomID)
	require.NoError(t, err)
	doc := decode(t, data)
	assert.Empty(t, doc["participants"])
	assert.Empty(t, doc["votes"])

	// Firing again has nothing left to do.
	assert.NoError(t, hooks.Fire(ctx, s, "conn-1"))
}

func TestDisconnectHooksSharedPaths(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	hooks := NewDisconnectHooks()

	participant := ParticipantPath(roomID, "u2")
	require.NoError(t, s.Set(ctx, participant, map[string]any{"id": "u2", "name": "Bea"}))

	hooks.Register("conn-old", participant, VotePath(roomID, "u2"))
	hooks.Register("conn-new", participant, VotePath(roomID, "u2"))
	hooks.Register("conn-new", participant)
	assert.Equal(t, 2, hooks.Holders(participant))
	assert.Len(t, hooks.Pending("conn-new"), 2)

	// The newer connection still holds the participant.
	require.NoError(t, hooks.Fire(ctx, s, "conn-old"))
	data, err := s.Get(ctx, roomID)
	require.NoError(t, err)
	assert.Contains(t, decode(t, data)["participants"], "u2")
	assert.Equal(t, 1, hooks.Holders(participant))

	require.NoError(t, hooks.Fire(ctx, s, "conn-new"))
	data, err = s.Get(ctx, roomID)
	require.NoError(t, err)
	assert.Empty(t, decode(t, data)["participants"])
	assert.Zero(t, hooks.Holders(participant))
}
