package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/your-org/photoproc/internal/config"
	"github.com/your-org/photoproc/internal/observability"
	"github.com/your-org/photoproc/internal/pipeline"
	"github.com/your-org/photoproc/internal/queue"
	"github.com/your-org/photoproc/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	olderThan := flag.Duration("older-than", 10*time.Minute, "re-enqueue photos pending for longer than this")
	limit := flag.Int("limit", 500, "maximum photos per sweep")
	every := flag.Duration("every", 0, "repeat the sweep at this interval; 0 runs once")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, err := storage.OpenRecords(ctx, cfg.Database)
	if err != nil {
		slog.Error("open record store", "error", err)
		os.Exit(1)
	}
	defer records.Close()

	producer, err := queue.OpenProducer(ctx, cfg)
	if err != nil {
		slog.Error("connect to queue", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	sweep := func() {
		n, err := pipeline.Sweep(ctx, records, producer, *olderThan, *limit)
		if err != nil {
			slog.Error("reprocess sweep", "queued", n, "error", err)
			return
		}
		slog.Info("reprocess sweep done", "queued", n)
	}

	sweep()
	if *every <= 0 {
		return
	}

	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("reprocess stopped")
			return
		case <-ticker.C:
			sweep()
		}
	}
}
