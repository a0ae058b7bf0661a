package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDBPool connects a pgx pool sized by DB_MAX_CONNS / DB_MIN_CONNS and
// verifies it with a ping. The pipeline holds at most one connection per
// statement, so small pools are enough for the worker.
func NewDBPool(ctx context.Context, cfg *Config) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	applyPoolLimits(poolCfg, cfg.DB)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func applyPoolLimits(poolCfg *pgxpool.Config, db DBConfig) {
	if db.MaxConns > 0 {
		poolCfg.MaxConns = int32(db.MaxConns)
	}
	if db.MinConns >= 0 && int32(db.MinConns) <= poolCfg.MaxConns {
		poolCfg.MinConns = int32(db.MinConns)
	}
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	if db.ApplicationName != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = db.ApplicationName
	}
}
