package repository

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/seedream-pipeline/internal/common"
)

type Config struct {
	Driver      string
	DSN         string
	MaxConns    int32
	DialTimeout time.Duration
	Attempts    uint
	Delay       time.Duration
	AppName     string
}

// DB is an open connection wrapped for the ent SQL dialect layer.
type DB struct {
	drv     *entsql.Driver
	dialect string
	pool    *pgxpool.Pool
	log     *slog.Logger
}

// Open connects to the configured database, retrying with a fixed delay, and
// pings it before returning.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.Attempts
	if attempts == 0 {
		attempts = 1
	}
	logger.Info("connecting to database", "driver", cfg.Driver, "dsn", common.RedactDSN(cfg.DSN))

	db, err := backoff.Retry(ctx, func() (*DB, error) {
		db, err := open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := db.HealthCheck(ctx, cfg.DialTimeout); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(cfg.Delay)),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("database connect attempt failed", "driver", cfg.Driver, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		logger.Error("failed to connect to database", "driver", cfg.Driver, "error", err)
		return nil, common.NewAppError("DB_CONNECT", fmt.Sprintf("connect to %s after %d attempt(s)", cfg.Driver, attempts), err)
	}

	logger.Info("successfully connected to database", "driver", cfg.Driver)
	return db, nil
}

func open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	switch cfg.Driver {
	case common.DriverPostgres:
		return openPostgres(ctx, cfg, logger)
	case common.DriverSQLite, "":
		return openSQLite(cfg, logger)
	default:
		return nil, backoff.Permanent(fmt.Errorf("%w: unsupported driver %q", common.ErrInvalidInput, cfg.Driver))
	}
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parse postgres dsn: %w", err))
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	appName := cfg.AppName
	if appName == "" {
		appName = "seedream-pipeline"
	}
	pc.ConnConfig.RuntimeParams["application_name"] = appName

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	// Wrap pool as *sql.DB for the ent dialect driver
	sqlDB := stdlib.OpenDBFromPool(pool)
	return &DB{
		drv:     entsql.OpenDB(dialect.Postgres, sqlDB),
		dialect: dialect.Postgres,
		pool:    pool,
		log:     logger,
	}, nil
}

func openSQLite(cfg Config, logger *slog.Logger) (*DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, backoff.Permanent(fmt.Errorf("%w: sqlite path is required", common.ErrInvalidInput))
	}
	sqlDB, err := stdsql.Open("sqlite", sqliteDSN(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	return &DB{
		drv:     entsql.OpenDB(dialect.SQLite, sqlDB),
		dialect: dialect.SQLite,
		log:     logger,
	}, nil
}

func sqliteDSN(path string) string {
	pragmas := "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	if strings.Contains(path, "_pragma=") {
		return path
	}
	if strings.Contains(path, "?") {
		return path + "&" + pragmas
	}
	return path + "?" + pragmas
}

// Dialect returns the ent dialect name (sqlite3 or postgres).
func (d *DB) Dialect() string {
	return d.dialect
}

// Driver exposes the ent SQL driver.
func (d *DB) Driver() *entsql.Driver {
	return d.drv
}

func (d *DB) builder() *entsql.DialectBuilder {
	return entsql.Dialect(d.dialect)
}

// Close closes the database connections gracefully
func (d *DB) Close() {
	if d == nil {
		return
	}
	if d.drv != nil {
		if err := d.drv.Close(); err != nil {
			d.log.Error("failed to close database driver", "error", err)
		}
	}
	if d.pool != nil {
		d.pool.Close()
	}
	d.log.Debug("database connections closed", "dialect", d.dialect)
}

// HealthCheck pings using database/sql to catch DSN issues early.
func (d *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := d.drv.DB().PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", d.dialect, err)
	}
	d.log.Debug("database ping successful", "dialect", d.dialect)
	return nil
}

// withTx runs fn in a transaction, rolling back when fn fails.
func (d *DB) withTx(ctx context.Context, fn func(tx dialect.Tx) error) error {
	tx, err := d.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", common.ErrDatabase, err)
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			d.log.Error("tx rollback failed", "error", rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit tx: %v", common.ErrDatabase, err)
	}
	return nil
}
