package game

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/gorilla/mux"
	"github.com/scythe504/planning-poker-backend/internal"
	"github.com/scythe504/planning-poker-backend/internal/auth"
	"github.com/scythe504/planning-poker-backend/internal/shared/logger"
	"github.com/scythe504/planning-poker-backend/internal/utils"
	"github.com/scythe504/planning-poker-backend/internal/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const connIDLength = 12

// Handler serves one room session per WebSocket connection.
type Handler struct {
	Deps      Deps
	Provider  auth.Provider
	Upgrader  *gws.Upgrader
	RateLimit rate.Limit
	RateBurst int
}

// =============================================================================
// WEBSOCKET CONNECTION HANDLING
// =============================================================================

// HandleWebSocket authenticates the caller, upgrades the connection and runs
// the session until either side closes it.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	if !utils.IsValidRoomID(roomID) {
		http.Error(w, ErrRoomIdInvalid.Error(), http.StatusBadRequest)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	user, err := h.Provider.Verify(r.Context(), token)
	if err != nil {
		logger.Debug("[HandleWebSocket] Rejected unauthenticated connection",
			zap.String("room", roomID), zap.Error(err))
		http.Error(w, auth.UserMessage(err), http.StatusUnauthorized)
		return
	}

	ws, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("[HandleWebSocket] Upgrade failed", zap.Error(err))
		return
	}

	conn := websocket.NewConn(utils.GenerateID(connIDLength), ws, h.RateLimit, h.RateBurst)
	go conn.KeepAlive()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	ctrl := NewController(roomID, user, conn.ID(), h.Deps, h.callbacks(roomID, conn))
	defer ctrl.Close()

	if err := ctrl.Open(ctx); err != nil {
		_ = websocket.Send(conn, internal.MsgError, internal.ErrorData{Message: err.Error()})
		conn.CloseWith(gws.CloseInternalServerErr, "subscribe failed")
		return
	}

	logger.Info("[HandleWebSocket] Connection opened",
		zap.String("room", roomID), zap.String("user", user.UID), zap.String("conn", conn.ID()))

	err = h.handleMessages(ctx, conn, ctrl)
	h.finish(ctrl, conn, token, err)
}

func (h *Handler) callbacks(roomID string, conn *websocket.Conn) Callbacks {
	return Callbacks{
		OnChange: func(view RoomView) {
			if err := websocket.Send(conn, internal.MsgRoomState, view); err != nil {
				logger.Debug("[OnChange] Failed to send room state",
					zap.String("conn", conn.ID()), zap.Error(err))
			}
		},
		OnKicked: func() {
			_ = websocket.Send(conn, internal.MsgKicked, internal.RoomClosedData{
				RoomID:  roomID,
				Message: "You were removed from the room by its creator",
			})
			conn.CloseWith(gws.CloseNormalClosure, "kicked")
		},
		OnRoomDeleted: func() {
			_ = websocket.Send(conn, internal.MsgRoomDeleted, internal.RoomClosedData{
				RoomID:  roomID,
				Message: "This room no longer exists",
			})
			conn.CloseWith(gws.CloseNormalClosure, "room deleted")
		},
		OnSignedOut: func() {
			_ = websocket.Send(conn, internal.MsgVoteTimeout, internal.VoteTimeoutData{
				RoomID:    roomID,
				Message:   "You were signed out because you did not vote in time",
				LoggedOut: time.Now().UnixMilli(),
			})
			conn.CloseWith(gws.ClosePolicyViolation, "vote timeout")
		},
	}
}

// handleMessages processes client messages until the connection ends or the
// client leaves. It returns the read error, nil after an explicit leave.
func (h *Handler) handleMessages(ctx context.Context, conn *websocket.Conn, ctrl *Controller) error {
	for {
		msg, ok, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsDecodeError(err) {
				logger.Debug("[handleMessages] Failed to parse message", zap.Error(err))
				h.replyError(conn, "", err)
				continue
			}
			return err
		}
		if !ok {
			h.replyError(conn, msg.Type, ErrRateLimited)
			continue
		}

		logger.Debug("[handleMessages] Received message",
			zap.String("type", msg.Type), zap.String("user", ctrl.User().UID))

		switch msg.Type {
		case internal.MsgVote:
			var value string
			if err := json.Unmarshal(msg.Data, &value); err != nil {
				h.replyError(conn, msg.Type, ErrInvalidVote)
				continue
			}
			h.replyError(conn, msg.Type, ctrl.Vote(ctx, internal.VoteValue(value)))
		case internal.MsgRevealVotes:
			h.replyError(conn, msg.Type, ctrl.RevealVotes(ctx))
		case internal.MsgResetRound:
			h.replyError(conn, msg.Type, ctrl.ResetRound(ctx))
		case internal.MsgUpdateStoryName:
			var name string
			if err := json.Unmarshal(msg.Data, &name); err != nil {
				h.replyError(conn, msg.Type, ErrInvalidStoryName)
				continue
			}
			h.replyError(conn, msg.Type, ctrl.UpdateStoryName(ctx, name))
		case internal.MsgUpdateName:
			var name string
			if err := json.Unmarshal(msg.Data, &name); err != nil {
				h.replyError(conn, msg.Type, ErrInvalidName)
				continue
			}
			h.replyError(conn, msg.Type, ctrl.UpdateName(ctx, name))
		case internal.MsgKickUser:
			var target string
			if err := json.Unmarshal(msg.Data, &target); err != nil {
				h.replyError(conn, msg.Type, &websocket.DecodeError{Err: err})
				continue
			}
			h.replyError(conn, msg.Type, ctrl.KickUser(ctx, target))
		case internal.MsgLeaveRoom:
			ctrl.LeaveRoom(ctx)
			conn.Close()
			return nil
		default:
			logger.Debug("[handleMessages] Unknown message type", zap.String("type", msg.Type))
		}
	}
}

// finish runs once the message loop is over. A client that closed on purpose
// leaves the room; a dropped connection fires its disconnect hooks instead.
func (h *Handler) finish(ctrl *Controller, conn *websocket.Conn, token string, readErr error) {
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), removalTimeout)
	defer cancel()

	switch {
	case readErr == nil:
	case websocket.IsGracefulClose(readErr):
		ctrl.LeaveRoom(ctx)
	default:
		logger.Info("[finish] Connection dropped",
			zap.String("room", ctrl.RoomID()), zap.String("conn", conn.ID()), zap.Error(readErr))
		// Stop handling snapshots first so our own removal is not taken for a kick.
		ctrl.Close()
		if h.Deps.Hooks != nil {
			if err := h.Deps.Hooks.Fire(ctx, h.Deps.Store, conn.ID()); err != nil {
				logStoreError("[finish] Disconnect cleanup incomplete", ctrl.RoomID(), err)
			}
		}
		h.Deps.Cleanup.SchedulePassive(ctrl.RoomID(), func() bool {
			verifyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := h.Provider.Verify(verifyCtx, token)
			return err == nil
		})
	}
}

func (h *Handler) replyError(conn *websocket.Conn, request string, err error) {
	if err == nil {
		return
	}
	msg := err.Error()
	if !isUserError(err) {
		msg = "Something went wrong, please try again"
	}
	if sendErr := websocket.Send(conn, internal.MsgError, internal.ErrorData{Message: msg, Request: request}); sendErr != nil {
		logger.Debug("[replyError] Failed to send error", zap.Error(sendErr))
	}
}

func isUserError(err error) bool {
	for _, target := range []error{
		ErrInvalidVote, ErrVotingClosed, ErrInvalidName, ErrInvalidStoryName,
		ErrNotInRoom, ErrRateLimited,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return websocket.IsDecodeError(err)
}
