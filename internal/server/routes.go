package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/scythe504/planning-poker-backend/internal"
	"github.com/scythe504/planning-poker-backend/internal/auth"
	"github.com/scythe504/planning-poker-backend/internal/shared/logger"
	"github.com/scythe504/planning-poker-backend/internal/store"
	"github.com/scythe504/planning-poker-backend/internal/utils"
	"go.uber.org/zap"
)

type healthChecker interface {
	Health(ctx context.Context) map[string]string
}

func (s *Server) RegisterRoutes() http.Handler {
	r := mux.NewRouter()

	// Apply CORS middleware
	r.Use(s.corsMiddleware)

	r.HandleFunc("/", s.HelloWorldHandler)
	r.HandleFunc("/health", s.HealthHandler).Methods(http.MethodGet)

	r.HandleFunc("/rooms/new", s.NewRoomHandler).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomId}", s.GetRoomHandler).Methods(http.MethodGet)

	if s.cfg.DevAuth {
		r.HandleFunc("/auth/dev-login", s.DevLoginHandler).Methods(http.MethodPost, http.MethodOptions)
	}
	r.HandleFunc("/auth/timeout-notice", s.TimeoutNoticeHandler).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/ws/{roomId}", s.ws.HandleWebSocket)

	return r
}

// CORS middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		// If it's a websocket upgrade, skip further CORS checks
		if strings.ToLower(r.Header.Get("Upgrade")) == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) HelloWorldHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"message": "Hello World"}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("[HelloWorldHandler] Error encoding response", zap.Error(err))
	}
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()

	stats := map[string]string{"status": "up", "store": s.cfg.StoreDriver}
	if hc, ok := s.store.(healthChecker); ok {
		stats = hc.Health(r.Context())
		stats["store"] = s.cfg.StoreDriver
	}

	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	writeResponse(w, status, startTime, stats)
}

type newRoomData struct {
	RoomID   string `json:"room_id"`
	ShareURL string `json:"share_url"`
}

func (s *Server) NewRoomHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()
	roomID := utils.GenerateRoomID()
	writeResponse(w, http.StatusOK, startTime, newRoomData{
		RoomID:   roomID,
		ShareURL: utils.ShareableURL(s.cfg.PublicBaseURL, roomID),
	})
}

type roomInfoData struct {
	RoomID       string `json:"room_id"`
	Exists       bool   `json:"exists"`
	Participants int    `json:"participants"`
	StoryName    string `json:"story_name,omitempty"`
	IsRevealed   bool   `json:"is_revealed"`
	ShareURL     string `json:"share_url"`
}

func (s *Server) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()
	roomID := mux.Vars(r)["roomId"]
	if !utils.IsValidRoomID(roomID) {
		writeResponse(w, http.StatusBadRequest, startTime, "Invalid room id")
		return
	}

	info := roomInfoData{
		RoomID:   roomID,
		ShareURL: utils.ShareableURL(s.cfg.PublicBaseURL, roomID),
	}

	data, err := s.store.Get(r.Context(), roomID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeResponse(w, http.StatusNotFound, startTime, info)
		return
	case err != nil:
		logger.Error("[GetRoomHandler] Failed to read room", zap.String("room", roomID), zap.Error(err))
		writeResponse(w, http.StatusServiceUnavailable, startTime, "Room store unavailable")
		return
	}

	room, err := internal.DecodeRoom(data)
	if err != nil {
		logger.Warn("[GetRoomHandler] Undecodable room", zap.String("room", roomID), zap.Error(err))
		writeResponse(w, http.StatusInternalServerError, startTime, "Room is unreadable")
		return
	}
	info.Exists = true
	info.Participants = room.GetParticipantCount()
	info.StoryName = room.StoryName
	info.IsRevealed = room.GameState.IsRevealed
	writeResponse(w, http.StatusOK, startTime, info)
}

type devLoginRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type devLoginData struct {
	Token    string        `json:"token"`
	Identity auth.Identity `json:"identity"`
}

// DevLoginHandler issues a token for a fresh user. Only registered when
// DEV_AUTH is on.
func (s *Server) DevLoginHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()

	var req devLoginRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeResponse(w, http.StatusBadRequest, startTime, "Invalid request body")
			return
		}
	}

	id := auth.Identity{
		UID:         uuid.NewString(),
		DisplayName: internal.NormalizeName(req.Name, internal.MaxNameLength),
		Email:       strings.TrimSpace(req.Email),
	}
	token, err := s.provider.Issue(id, s.now())
	if err != nil {
		logger.Error("[DevLoginHandler] Failed to issue token", zap.Error(err))
		writeResponse(w, http.StatusInternalServerError, startTime, auth.UserMessage(err))
		return
	}
	writeResponse(w, http.StatusOK, startTime, devLoginData{Token: token, Identity: id})
}

type timeoutNoticeData struct {
	LoggedOutByTimeout bool   `json:"logged_out_by_timeout"`
	At                 *int64 `json:"at_ms,omitempty"`
}

// TimeoutNoticeHandler tells a returning user, once, that they were signed
// out for not voting in time.
func (s *Server) TimeoutNoticeHandler(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now().UnixMilli()

	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
	}
	id, err := s.provider.Verify(r.Context(), token)
	if err != nil {
		writeResponse(w, http.StatusUnauthorized, startTime, auth.UserMessage(err))
		return
	}

	var data timeoutNoticeData
	if notice, ok := s.notices.Consume(id.UID); ok {
		data.LoggedOutByTimeout = true
		data.At = internal.Millis(notice.At)
	}
	writeResponse(w, http.StatusOK, startTime, data)
}

func writeResponse(w http.ResponseWriter, status int, startTime int64, data any) {
	endTime := time.Now().UnixMilli()
	resp := internal.Response{
		StatusCode:    status,
		RespStartTime: startTime,
		RespEndTime:   endTime,
		NetRespTime:   endTime - startTime,
		Data:          data,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("[writeResponse] Error encoding response", zap.Error(err))
	}
}
