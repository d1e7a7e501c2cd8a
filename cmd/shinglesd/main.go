// Command shinglesd consumes documents from Kafka, checks each one for
// near-duplicates and publishes a similarity event for every match. It
// serves Prometheus metrics and health probes on the metrics port.
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

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/backend"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/detector"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/shingle"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/middleware"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	saveInterval := flag.Duration("save-interval", time.Minute, "how often to save the index, 0 to save only on shutdown")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting shingles service",
		"backend", cfg.Index.Backend,
		"index", cfg.Index.Name,
		"max_distance", cfg.Detector.MaxDistance,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, *saveInterval); err != nil {
		slog.Error("shingles service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("shingles service stopped")
}

func serve(ctx context.Context, cfg *config.Config, saveInterval time.Duration) error {
	m := metrics.New()
	h, err := backend.New(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Close(); err != nil {
			slog.Error("failed to close index backend", "error", err)
		}
	}()

	det := detector.New(h.Index, shingle.NewGenerator(cfg.Shingle), cfg.Detector).WithMetrics(m)
	if err := det.Open(ctx); err != nil {
		return err
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Similarities)
	defer producer.Close()
	kafkaConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Documents, ingest.Handler(det, producer, m))
	defer kafkaConsumer.Close()
	consumer := ingest.New(kafkaConsumer)

	checker := health.NewChecker()
	checker.Register("index", health.PingCheck(h.Index))
	checker.Register("kafka", health.FuncCheck(func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka.Brokers)
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Start(gctx)
	})
	if cfg.Metrics.Enabled {
		server := metrics.NewServer(cfg.Metrics.Port, m, checker.Handlers())
		server.Handler = middleware.Metrics(m, "/metrics", "/health/live", "/health/ready")(server.Handler)
		g.Go(func() error {
			return metrics.Serve(gctx, server)
		})
	}
	if saveInterval > 0 {
		g.Go(func() error {
			return saveLoop(gctx, h, saveInterval)
		})
	}

	slog.Info("shingles service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.Documents,
		"group", cfg.Kafka.ConsumerGroup,
		"publish_topic", cfg.Kafka.Topics.Similarities,
	)
	runErr := g.Wait()

	slog.Info("saving index before shutdown")
	if err := h.Index.Save(context.Background()); err != nil {
		slog.Error("final save failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// saveLoop saves the index every interval. Only the backend is touched, so
// it may run beside the consumer.
func saveLoop(ctx context.Context, h *backend.Handle, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := h.Index.Save(ctx); err != nil {
				slog.Error("periodic save failed", "error", err)
			}
		}
	}
}
