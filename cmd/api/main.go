package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/your-org/photoproc/internal/api"
	"github.com/your-org/photoproc/internal/api/handlers"
	"github.com/your-org/photoproc/internal/api/ws"
	"github.com/your-org/photoproc/internal/config"
	"github.com/your-org/photoproc/internal/observability"
	"github.com/your-org/photoproc/internal/queue"
	"github.com/your-org/photoproc/internal/storage"
	"github.com/your-org/photoproc/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting photo API", "port", cfg.Server.Port,
		"database", cfg.Database.Driver, "storage", cfg.Storage.Backend, "queue", cfg.Queue.Backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records, err := storage.OpenRecords(ctx, cfg.Database)
	if err != nil {
		slog.Error("open record store", "error", err)
		os.Exit(1)
	}
	defer records.Close()

	assets, err := storage.OpenAssets(ctx, cfg.Storage, cfg.MinIO)
	if err != nil {
		slog.Error("open asset store", "error", err)
		os.Exit(1)
	}

	producer, err := queue.OpenProducer(ctx, cfg)
	if err != nil {
		slog.Error("connect to queue", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	// Dead letters are only published to a stream on NATS; asynq keeps
	// them in its archive.
	if cfg.Queue.Backend == "nats" {
		feed, err := queue.NewNATSConsumer(queue.NATSConsumerConfig{URL: cfg.NATS.URL, Name: "api-deadletters"})
		if err != nil {
			slog.Warn("dead letter feed unavailable", "error", err)
		} else {
			defer feed.Close()
			err = feed.ConsumeDeadLetters(ctx, "api-deadletters", func(dl queue.DeadLetter) {
				hub.Broadcast(&dto.OpsEvent{
					Type:     "dead_letter",
					PhotoID:  dl.PhotoID,
					Attempts: dl.Attempts,
					Error:    dl.Error,
					At:       dl.At.Format(time.RFC3339),
				})
			})
			if err != nil {
				slog.Warn("start dead letter feed", "error", err)
			}
		}
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:         cfg.Server.APIKey,
		Records:        records,
		Assets:         assets,
		Producer:       producer,
		Hub:            hub,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Checks:         []handlers.Check{{Name: cfg.Queue.Backend, Ping: producer.Ping}},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
