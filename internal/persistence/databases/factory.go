package databases

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ragpipeline/internal/config"
)

// NewManager constructs the three storage backends (vector, text, graph)
// from config.StoresConfig. Each defaults to an in-memory implementation
// when Backend is unset or "memory".
func NewManager(ctx context.Context, cfg config.StoresConfig) (Manager, error) {
	var m Manager

	switch cfg.Vector.Backend {
	case "", "memory":
		m.Vector = NewMemoryVector()
	case "postgres", "pgvector":
		pool, err := newPgPool(ctx, cfg.Vector.DSN)
		if err != nil {
			return Manager{}, fmt.Errorf("connect postgres (vector): %w", err)
		}
		m.Vector = NewPostgresVector(pool, cfg.Vector.Dimensions, cfg.Vector.Metric)
	case "qdrant":
		v, err := NewQdrantVector(cfg.Vector.DSN, cfg.Vector.Collection, cfg.Vector.Dimensions, cfg.Vector.Metric)
		if err != nil {
			return Manager{}, fmt.Errorf("connect qdrant: %w", err)
		}
		m.Vector = v
	default:
		return Manager{}, fmt.Errorf("unsupported vector backend: %s", cfg.Vector.Backend)
	}

	switch cfg.Text.Backend {
	case "", "memory":
		m.Text = NewMemoryText()
	case "postgres":
		pool, err := newPgPool(ctx, cfg.Text.DSN)
		if err != nil {
			return Manager{}, fmt.Errorf("connect postgres (text): %w", err)
		}
		m.Text = NewPostgresText(pool)
	default:
		return Manager{}, fmt.Errorf("unsupported text backend: %s", cfg.Text.Backend)
	}

	switch cfg.Graph.Backend {
	case "", "memory":
		m.Graph = NewMemoryGraph()
	case "postgres":
		pool, err := newPgPool(ctx, cfg.Graph.DSN)
		if err != nil {
			return Manager{}, fmt.Errorf("connect postgres (graph): %w", err)
		}
		m.Graph = NewPostgresGraph(pool)
	default:
		return Manager{}, fmt.Errorf("unsupported graph backend: %s", cfg.Graph.Backend)
	}

	return m, nil
}

func newPgPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = 8
	poolCfg.MinConns = 0
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(cctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
