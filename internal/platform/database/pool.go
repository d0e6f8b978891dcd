package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolOpenConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bnpl_db_pool_open_conns",
		Help: "Number of established connections, in use and idle",
	})
	poolInUseConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bnpl_db_pool_in_use_conns",
		Help: "Number of connections currently in use",
	})
	poolWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bnpl_db_pool_waits_total",
		Help: "Number of times a caller waited for a free connection",
	})
)

// Config holds database connection configuration.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration // default 5s
}

// Pool wraps a *sql.DB with health checking capabilities.
type Pool struct {
	db        *sql.DB
	lastWaits int64
}

// New opens a pgx-backed pool and pings it.
// Returns nil if the URL is empty; callers then fall back to in-memory stores.
func New(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{db: db}, nil
}

// DB returns the underlying *sql.DB for query operations.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Health checks if the database is reachable.
func (p *Pool) Health(ctx context.Context) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("database not configured")
	}
	return p.db.PingContext(ctx)
}

// Close closes the database connection pool.
func (p *Pool) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// RecordPoolStats publishes pool statistics; call it periodically.
func (p *Pool) RecordPoolStats() {
	stats := p.db.Stats()
	poolOpenConns.Set(float64(stats.OpenConnections))
	poolInUseConns.Set(float64(stats.InUse))
	if stats.WaitCount > p.lastWaits {
		poolWaits.Add(float64(stats.WaitCount - p.lastWaits))
	}
	p.lastWaits = stats.WaitCount
}
