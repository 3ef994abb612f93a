package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/blobdispatch/internal/utils"
)

const MemoryPath = ":memory:"

const defaultPragma = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA foreign_keys=ON;
PRAGMA temp_store=MEMORY;
PRAGMA cache_size=8000;
`

type config struct {
	path            string
	pragmas         string
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
}

type SqliteOption func(*config)

// WithPath sets the database file. MemoryPath keeps everything in memory.
func WithPath(path string) SqliteOption {
	return func(c *config) {
		c.path = path
	}
}

// WithPragmas replaces the default pragmas
func WithPragmas(pragmas string) SqliteOption {
	return func(c *config) {
		c.pragmas = pragmas
	}
}

func WithMaxOpenConns(n int) SqliteOption {
	return func(c *config) {
		c.maxOpenConns = n
	}
}

func WithMaxIdleConns(n int) SqliteOption {
	return func(c *config) {
		c.maxIdleConns = n
	}
}

func WithConnMaxLifetime(d time.Duration) SqliteOption {
	return func(c *config) {
		c.connMaxLifetime = d
	}
}

// NewSqliteDB opens a sqlite database with the driver selected at build time
func NewSqliteDB(opts ...SqliteOption) (*sqlx.DB, error) {
	cfg := &config{
		path:         MemoryPath,
		pragmas:      defaultPragma,
		maxIdleConns: 2,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	dsn := MemoryPath
	if cfg.path != MemoryPath {
		if err := utils.EnsureParent(cfg.path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", cfg.path)
	} else {
		// every pooled connection to :memory: would be a different database
		cfg.maxOpenConns = 1
	}

	slog.Debug("db open", "driver", driverID, "path", cfg.path)
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.maxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.maxOpenConns)
	}
	if cfg.maxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.maxIdleConns)
	}
	if cfg.connMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.connMaxLifetime)
	}

	if _, err := db.Exec(cfg.pragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	return db, nil
}

// Migrate runs the schema statements in a single transaction
func Migrate(ctx context.Context, db *sqlx.DB, statements ...string) error {
	return WithTx(ctx, db, func(tx *sqlx.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		return nil
	})
}

// WithTx runs fn in a transaction, committing when fn returns nil
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Warn("db rollback", "error", rbErr)
		}
		return err
	}

	return tx.Commit()
}
