package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/photoproc/internal/config"
	"github.com/your-org/photoproc/internal/observability"
	"github.com/your-org/photoproc/internal/pipeline"
	"github.com/your-org/photoproc/internal/queue"
	"github.com/your-org/photoproc/internal/render"
	"github.com/your-org/photoproc/internal/storage"
	"github.com/your-org/photoproc/internal/vision"
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

	slog.Info("starting photo worker",
		"workers", cfg.Queue.WorkerCount,
		"queue", cfg.Queue.Backend,
		"classifier", cfg.Classifier.Kind,
		"cpu_cores", runtime.NumCPU(),
	)

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

	tagger := vision.New(cfg.Classifier)
	defer tagger.Close()

	processor := pipeline.NewProcessor(
		storage.NewPhotos(records, assets),
		render.New(render.Options{
			ThumbnailSize: cfg.Processing.ThumbnailSize,
			WatermarkText: cfg.Processing.WatermarkText,
			FontPath:      cfg.Processing.FontPath,
		}),
		tagger,
		pipeline.Options{
			ReadGrace:     cfg.Processing.ReadGrace,
			SkipProcessed: *cfg.Processing.SkipProcessed,
			Timeout:       cfg.Processing.JobTimeout,
		},
	)

	policy := pipeline.RetryPolicy(cfg.Queue, records, nil)
	consumer, err := queue.OpenConsumer(cfg, "photo-workers", policy)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}

	if err := consumer.Start(ctx, processor.Deliver); err != nil {
		slog.Error("start photo consumer", "error", err)
		os.Exit(1)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		slog.Info("worker metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	consumer.Close()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}
