// Package main is the persistence worker: it subscribes to the NATS
// snapshot subject and writes every received envelope's compressed blob
// to Postgres, decoupling room servers from storage I/O (§6.2).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/roomsync/collab/internal/config"
	"github.com/roomsync/collab/internal/persistence"
)

func main() {
	cfg := config.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User, cfg.Database.Password,
		cfg.Database.DBName, cfg.Database.SSLMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := persistence.OpenPostgresStore(ctx, dsn)
	if err != nil {
		logger.Fatal("worker: cannot reach postgres", zap.Error(err))
	}
	defer store.Close()

	nc, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		logger.Fatal("worker: cannot reach nats", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("persistence worker consuming snapshots",
		zap.String("subject", cfg.NATS.SnapshotSubject))

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("worker shutting down")
		cancel()
	}()

	if err := persistence.RunConsumer(ctx, nc, cfg.NATS.SnapshotSubject, store, logger); err != nil && err != context.Canceled {
		logger.Error("consumer stopped", zap.Error(err))
	}
}
