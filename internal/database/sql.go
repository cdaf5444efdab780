package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
)

// Dialect identifies the SQL flavour behind a client
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

var migrations = map[Dialect][]string{
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS orders (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT    NOT NULL,
			price     REAL    NOT NULL,
			size      INTEGER NOT NULL,
			side      TEXT    NOT NULL,
			contract  TEXT    NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_timestamp ON orders (timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_price ON orders (price)`,
	},
	DialectMySQL: {
		`CREATE TABLE IF NOT EXISTS orders (
			id        BIGINT      NOT NULL AUTO_INCREMENT PRIMARY KEY,
			timestamp VARCHAR(40) NOT NULL,
			price     DOUBLE      NOT NULL,
			size      BIGINT      NOT NULL,
			side      VARCHAR(4)  NOT NULL,
			contract  VARCHAR(32) NOT NULL,
			INDEX idx_orders_timestamp (timestamp DESC),
			INDEX idx_orders_price (price)
		) ENGINE=InnoDB`,
	},
}

// SQLClient handles the durable tick tables
type SQLClient struct {
	db      *sql.DB
	dialect Dialect
	logger  *logrus.Entry
}

// NewSQLiteClient opens (and creates) an embedded database file
func NewSQLiteClient(path string, logger *logrus.Logger) (*SQLClient, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	logger.WithField("path", path).Debug("Opening SQLite tick store")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// Single writer; readers share the same connection
	db.SetMaxOpenConns(1)

	return newSQLClient(db, DialectSQLite, logger)
}

// NewMySQLClient creates a new MySQL client
func NewMySQLClient(cfg *config.MySQLConfig, logger *logrus.Logger) (*SQLClient, error) {
	dsn := cfg.DSN()

	logger.WithField("dsn", fmt.Sprintf("%s:***@tcp(%s:%d)/%s", cfg.User, cfg.Host, cfg.Port, cfg.Database)).Debug("Connecting to MySQL")

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return newSQLClient(db, DialectMySQL, logger)
}

func newSQLClient(db *sql.DB, dialect Dialect, logger *logrus.Logger) (*SQLClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", dialect, err)
	}

	return &SQLClient{
		db:      db,
		dialect: dialect,
		logger:  logger.WithField("component", string(dialect)),
	}, nil
}

// DB exposes the underlying pool
func (c *SQLClient) DB() *sql.DB {
	return c.db
}

// Dialect returns the SQL flavour
func (c *SQLClient) Dialect() Dialect {
	return c.dialect
}

// Migrate creates the tick tables and indices if missing
func (c *SQLClient) Migrate(ctx context.Context) error {
	for i, stmt := range migrations[c.dialect] {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	c.logger.WithField("statements", len(migrations[c.dialect])).Debug("Schema migrated")
	return nil
}

// Close closes the database connection
func (c *SQLClient) Close() error {
	return c.db.Close()
}

// Health checks database health
func (c *SQLClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return c.db.PingContext(ctx)
}

// ExecTx executes a function within a transaction
func (c *SQLClient) ExecTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
