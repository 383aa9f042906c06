// Package main is the room server process: it terminates WebSocket
// connections, hosts one roomserver.Room per active room, and exposes
// health/metrics endpoints for the control plane.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/roomsync/collab/internal/config"
	"github.com/roomsync/collab/internal/identity"
	"github.com/roomsync/collab/internal/middleware"
	"github.com/roomsync/collab/internal/persistence"
	"github.com/roomsync/collab/internal/pubsub"
	"github.com/roomsync/collab/internal/roomserver"
	"github.com/roomsync/collab/pkg/metrics"
)

func main() {
	cfg := config.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	m := metrics.NewMetrics()

	persister, closePersister := buildPersister(cfg, logger)
	defer closePersister()

	relay := pubsub.New(redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}), "roomsync:room:", logger)

	roomCfg := roomserver.Config{
		PersistDebounce: cfg.Room.PersistDebounce,
	}
	server := roomserver.NewServer(roomCfg, persister, logger, m, relay)

	verifier := identity.NewVerifier([]byte(cfg.JWT.Secret), cfg.JWT.Issuer)

	router := gin.Default()
	router.Use(middleware.RateLimit(cfg.RateLimit))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ws := router.Group("/ws")
	ws.Use(middleware.VerifyJoinToken(verifier, cfg.JWT.Required))
	ws.GET("/:roomId", server.HandleUpgrade)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting room server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("room server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down room server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("room server forced to shutdown", zap.Error(err))
	}
	logger.Info("room server exited gracefully")
}

// buildPersister wires the NATS-publish/Postgres-read persister described
// in §6.2. If either dependency is unreachable at startup the process
// still serves rooms, backed by an in-memory no-op persister, rather than
// refusing to start.
func buildPersister(cfg *config.Config, logger *zap.Logger) (roomserver.Persister, func()) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password,
		cfg.Database.DBName, cfg.Database.SSLMode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := persistence.OpenPostgresStore(ctx, dsn)
	if err != nil {
		logger.Warn("postgres unavailable, room snapshots will not survive restarts", zap.Error(err))
		return roomserver.NoopPersister{}, func() {}
	}

	nc, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		logger.Warn("nats unavailable, room snapshots will not survive restarts", zap.Error(err))
		store.Close()
		return roomserver.NoopPersister{}, func() {}
	}

	persister := persistence.NewNATSPersister(nc, cfg.NATS.SnapshotSubject, store, logger)
	return persister, func() {
		nc.Close()
		store.Close()
	}
}
