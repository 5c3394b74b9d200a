package game

import (
	"context"
	"errors"

	"github.com/scythe504/planning-poker-backend/internal"
	"github.com/scythe504/planning-poker-backend/internal/shared/logger"
	"github.com/scythe504/planning-poker-backend/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// ROUND FLOW
// =============================================================================

// Vote records the caller's card. Votes can change until the round is
// revealed. The first vote of a round starts the voting clock.
func (c *Controller) Vote(ctx context.Context, value internal.VoteValue) error {
	if !c.authenticated() || c.isClosed() {
		return nil
	}
	if !internal.IsValidVote(value) {
		return ErrInvalidVote
	}
	room := c.Room()
	if room == nil || !room.HasParticipant(c.user.UID) {
		return ErrNotInRoom
	}
	if room.GameState.IsRevealed {
		return ErrVotingClosed
	}

	uid := c.user.UID
	var g errgroup.Group
	g.Go(func() error {
		return c.deps.Store.Set(ctx, store.ParticipantFieldPath(c.roomID, uid, "hasVoted"), true)
	})
	g.Go(func() error {
		return c.deps.Store.Set(ctx, store.VotePath(c.roomID, uid), value)
	})
	if room.GameState.VoteStartedAt == nil {
		startedAt := c.deps.Now().UnixMilli()
		g.Go(func() error {
			return c.deps.Store.Set(ctx, store.GameStateFieldPath(c.roomID, "voteStartedAt"), startedAt)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("[Vote] Failed to record vote",
			zap.String("room", c.roomID), zap.String("user", uid), zap.Error(err))
		return err
	}

	logger.Debug("[Vote] Vote recorded", zap.String("room", c.roomID), zap.String("user", uid))
	return nil
}

// RevealVotes shows everyone's votes. Creator only.
func (c *Controller) RevealVotes(ctx context.Context) error {
	if !c.authenticated() || c.isClosed() {
		return nil
	}
	room := c.Room()
	if room == nil || !room.IsCreator(c.user.UID) {
		logger.Debug("[RevealVotes] Only the room creator can reveal votes", zap.String("room", c.roomID))
		return nil
	}

	if err := c.deps.Store.Set(ctx, store.GameStateFieldPath(c.roomID, "isRevealed"), true); err != nil {
		return err
	}
	logger.Info("[RevealVotes] Votes revealed", zap.String("room", c.roomID))
	return nil
}

// ResetRound starts a new round: fresh round id, hidden and cleared votes,
// nobody has voted. The creator is kept. Creator only.
func (c *Controller) ResetRound(ctx context.Context) error {
	if !c.authenticated() || c.isClosed() {
		return nil
	}
	room := c.Room()
	if room == nil || !room.IsCreator(c.user.UID) {
		logger.Debug("[ResetRound] Only the room creator can reset the round", zap.String("room", c.roomID))
		return nil
	}

	now := c.deps.Now()
	gs := internal.NewGameState(room.GameState.CreatedBy, now)

	var g errgroup.Group
	g.Go(func() error { return c.deps.Store.Set(ctx, store.GameStatePath(c.roomID), gs) })
	g.Go(func() error { return c.deps.Store.Set(ctx, store.VotesPath(c.roomID), map[string]any{}) })
	if err := g.Wait(); err != nil {
		return err
	}

	// Writing a field under someone who left meanwhile would recreate them
	// as an id-less stub that keeps the room alive.
	ids := c.currentParticipants(ctx, room)
	startedAt := now.UnixMilli()
	for _, id := range ids {
		g.Go(func() error {
			return c.deps.Store.Set(ctx, store.ParticipantFieldPath(c.roomID, id, "hasVoted"), false)
		})
		g.Go(func() error {
			return c.deps.Store.Set(ctx, store.ParticipantFieldPath(c.roomID, id, "voteStartedAt"), startedAt)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("[ResetRound] New round started",
		zap.String("room", c.roomID), zap.String("round", gs.RoundId))
	return nil
}

// currentParticipants re-reads the room for its participant ids, falling
// back to cached when the read fails. A room that is gone has none.
func (c *Controller) currentParticipants(ctx context.Context, cached *internal.Room) []string {
	room := cached
	data, err := c.deps.Store.Get(ctx, c.roomID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		logger.Warn("[ResetRound] Could not re-read participants, using cached list",
			zap.String("room", c.roomID), zap.Error(err))
	default:
		if fresh, err := internal.DecodeRoom(data); err == nil {
			room = fresh
		}
	}

	ids := make([]string, 0, len(room.Participants))
	for id := range room.Participants {
		ids = append(ids, id)
	}
	return ids
}
