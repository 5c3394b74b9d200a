package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/scythe504/planning-poker-backend/internal/database"
	"github.com/scythe504/planning-poker-backend/internal/env"
	"github.com/scythe504/planning-poker-backend/internal/server"
	"github.com/scythe504/planning-poker-backend/internal/shared/logger"
	"github.com/scythe504/planning-poker-backend/internal/store"
	"go.uber.org/zap"
)

func openStore(ctx context.Context, cfg env.EnvValue) (store.RoomStore, func(), error) {
	switch cfg.StoreDriver {
	case env.StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("DATABASE_URL is required for the postgres store")
		}
		pg, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		return store.NewMemoryStore(), func() {}, nil
	}
}

func gracefulShutdown(apiServer *http.Server, srv *server.Server, done chan bool) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	logger.Info("Shutting down gracefully, press Ctrl+C again to force")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown with error", zap.Error(err))
	}
	srv.Shutdown(ctx)

	logger.Info("Server exiting")
	done <- true
}

func main() {
	env.LoadEnv()
	logger.Init(env.Value.DebugMode)
	defer logger.Sync()
	env.Value.LogWarnings()

	cfg := env.Value
	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	roomStore, closeStore, err := openStore(startCtx, cfg)
	cancel()
	if err != nil {
		logger.Fatal("Failed to open room store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer closeStore()

	srv := server.New(cfg, roomStore)
	apiServer := server.NewServer(srv)

	done := make(chan bool, 1)
	go gracefulShutdown(apiServer, srv, done)

	logger.Info("Server listening", zap.String("addr", apiServer.Addr), zap.String("store", cfg.StoreDriver))
	err = apiServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}

	<-done
	logger.Info("Graceful shutdown complete.")
}
