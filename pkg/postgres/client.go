// Package postgres opens lib/pq connection pools for the relational index
// backend.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/shingles/pkg/config"
	_ "github.com/lib/pq"
)

type Client struct {
	DB  *sql.DB
	cfg config.PostgresConfig
}

// New opens a pool from cfg and pings it.
func New(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := open(ctx, cfg.DSN(), cfg)
	if err != nil {
		return nil, err
	}
	return &Client{DB: db, cfg: cfg}, nil
}

// NewFromDSN opens a pool from a raw lib/pq connection string, using the
// default pool settings.
func NewFromDSN(ctx context.Context, dsn string) (*Client, error) {
	cfg := config.Default().Postgres
	db, err := open(ctx, dsn, cfg)
	if err != nil {
		return nil, err
	}
	return &Client{DB: db, cfg: cfg}, nil
}

func open(ctx context.Context, dsn string, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return db, nil
}

func (c *Client) Close() error {
	return c.DB.Close()
}
