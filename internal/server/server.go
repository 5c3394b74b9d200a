package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/scythe504/planning-poker-backend/internal/auth"
	"github.com/scythe504/planning-poker-backend/internal/env"
	"github.com/scythe504/planning-poker-backend/internal/game"
	"github.com/scythe504/planning-poker-backend/internal/store"
	"github.com/scythe504/planning-poker-backend/internal/websocket"
	"golang.org/x/time/rate"
)

const tokenMaxAge = 24 * time.Hour

type Server struct {
	cfg      env.EnvValue
	store    store.RoomStore
	cleanup  *game.CleanupScheduler
	hooks    *store.DisconnectHooks
	notices  *auth.Notices
	provider *auth.JWTProvider
	ws       *game.Handler
	now      func() time.Time
}

// New wires the room services on top of s.
func New(cfg env.EnvValue, s store.RoomStore) *Server {
	srv := &Server{
		cfg:      cfg,
		store:    s,
		cleanup:  game.NewCleanupScheduler(s, cfg.CleanupGrace),
		hooks:    store.NewDisconnectHooks(),
		notices:  auth.NewNotices(),
		provider: auth.NewJWTProvider(cfg.JWTKey, tokenMaxAge),
		now:      time.Now,
	}
	srv.ws = &game.Handler{
		Deps: game.Deps{
			Store:   s,
			Cleanup: srv.cleanup,
			Hooks:   srv.hooks,
			Notices: srv.notices,
			Config: game.Config{
				VoteTimeout:    cfg.VoteTimeout,
				LoadingTimeout: cfg.LoadingTimeout,
				PublicBaseURL:  cfg.PublicBaseURL,
			},
			Now: srv.now,
		},
		Provider:  srv.provider,
		Upgrader:  websocket.NewUpgrader(cfg.AllowedOrigin),
		RateLimit: rate.Limit(cfg.MessageRate),
		RateBurst: cfg.MessageBurst,
	}
	return srv
}

func NewServer(s *Server) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.ServerPort),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Shutdown drops every pending room cleanup.
func (s *Server) Shutdown(_ context.Context) int {
	return s.cleanup.CancelAll()
}
