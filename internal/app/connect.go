// Package app opens the store and cache selected by config for the binaries
// under cmd/.
package app

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/library-ledger/internal/adapter/storage"
	"github.com/rl1809/library-ledger/internal/config"
	"github.com/rl1809/library-ledger/internal/port"
)

// OpenStore connects the configured storage driver. Every driver bounds row
// lock waits by cfg.LockTimeout.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (port.Store, error) {
	switch cfg.StorageDriver {
	case config.DriverMySQL:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			return nil, err
		}
		logger.Info("connected to mysql")

		adapter := storage.NewMySQLAdapter(db, cfg.LockTimeout)
		if cfg.AutoMigrate {
			if err := adapter.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return adapter, nil

	case config.DriverPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		poolCfg.MaxConns = 50
		poolCfg.MinConns = 2
		poolCfg.MaxConnLifetime = time.Hour
		poolCfg.MaxConnIdleTime = 5 * time.Minute
		poolCfg.ConnConfig.ConnectTimeout = 5 * time.Second

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			return nil, err
		}
		logger.Info("connected to postgres")

		adapter := storage.NewPostgresAdapter(pool, cfg.LockTimeout)
		if cfg.AutoMigrate {
			if err := adapter.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return adapter, nil

	default:
		logger.Warn("using in-memory store, data is lost on exit")
		return storage.NewMemoryAdapter(cfg.LockTimeout), nil
	}
}

// OpenCache connects Redis, or falls back to an in-process cache when
// REDIS_ADDR is empty. The returned func closes the connection.
func OpenCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (port.CacheRepository, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR not set, using in-memory cache")
		return storage.NewMemoryCache(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, err
	}
	logger.Info("connected to redis")

	return storage.NewRedisAdapter(rdb), func() { rdb.Close() }, nil
}
