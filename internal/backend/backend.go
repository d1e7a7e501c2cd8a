// Package backend builds the configured index.Index implementation and the
// connections it needs.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index/badgerindex"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index/redisindex"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index/segment"
	"github.com/Adithya-Monish-Kumar-K/shingles/internal/index/sqlindex"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/resilience"
)

// Handle is an unopened, traced index plus the resources behind it.
type Handle struct {
	Index   *index.TracedIndex
	Backend string
	closers []func() error
}

// Close releases the index and then the connections it used, in reverse
// order of acquisition. Data is not deleted.
func (h *Handle) Close() error {
	var errs []error
	if err := h.Index.Close(); err != nil {
		errs = append(errs, err)
	}
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New builds the backend named by cfg.Index.Backend. Connections to
// external stores are retried per cfg.Retry. m may be nil.
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Handle, error) {
	name := cfg.Index.Name
	backendName := cfg.Index.Backend
	retry := resilience.FromConfig(cfg.Retry)
	h := &Handle{Backend: backendName}

	var idx index.Index
	switch backendName {
	case config.BackendMemory:
		idx = index.NewMemoryIndex(name)

	case config.BackendSegment:
		idx = segment.New(cfg.Index.DataDir, name, m)

	case config.BackendSQLite:
		sqlIdx, err := sqlindex.NewSQLite(ctx, cfg.SQLite.Path, name)
		if err != nil {
			return nil, fmt.Errorf("creating sqlite index: %w", err)
		}
		idx = sqlIdx

	case config.BackendPostgres:
		var client *postgres.Client
		err := resilience.Retry(ctx, "connect postgres", retry, func() error {
			var err error
			client, err = postgres.New(ctx, cfg.Postgres)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		h.closers = append(h.closers, client.Close)
		idx = sqlindex.New(client.DB, sqlindex.Postgres, name)

	case config.BackendRedis:
		var client *redis.Client
		err := resilience.Retry(ctx, "connect redis", retry, func() error {
			var err error
			client, err = redis.NewClient(ctx, cfg.Redis)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		h.closers = append(h.closers, client.Close)
		idx = redisindex.New(client, cfg.Redis.KeyPrefix, name)

	case config.BackendBadger:
		idx = badgerindex.New(cfg.Index.DataDir, name, cfg.Badger)

	default:
		return nil, fmt.Errorf("unknown index backend %q", backendName)
	}

	h.Index = index.NewTracedIndex(idx, backendName, m)
	slog.Info("index backend ready", "backend", backendName, "index", name)
	return h, nil
}
