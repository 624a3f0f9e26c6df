package app

import (
	"context"
	"fmt"
	"time"

	"gatehouse/cmd/identity"

	"github.com/jackc/pgx/v5/pgxpool"
)

// openStore opens the configured identity store. The returned closer releases
// everything the store holds, including the pgx pool.
func openStore(ctx context.Context, cfg Config, log Logger) (identity.Store, func(), error) {
	switch cfg.DatabaseDriver {
	case DriverPostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("db: %w", err)
		}
		st, err := identity.NewPostgresStore(pool,
			identity.WithSchema(cfg.DBSchema),
			identity.WithQueryTimeout(cfg.StoreTimeout),
		)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if cfg.AutoMigrate {
			if err := st.EnsureSchema(ctx); err != nil {
				pool.Close()
				return nil, nil, err
			}
			log.Info("db.schema.ensured", "schema", cfg.DBSchema)
		}
		log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
		return st, pool.Close, nil

	case DriverSQLite:
		st, err := identity.OpenSQLite(cfg.SQLitePath, identity.WithSQLiteTimeout(cfg.StoreTimeout))
		if err != nil {
			return nil, nil, fmt.Errorf("db: %w", err)
		}
		log.Info("db.enabled.sqlite_store", "path", cfg.SQLitePath)
		return st, func() { _ = st.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("db: unknown driver %q", cfg.DatabaseDriver)
	}
}

// NewDBPool builds a pgxpool and validates connectivity.
// It does not create tables; see Config.AutoMigrate.
func NewDBPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 {
		pcfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
