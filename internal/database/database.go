package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	// Pure Go SQLite driver registered as "sqlite"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DB bundles the gorm handle, the underlying pool and an sqlx view of the
// same pool. All three share one set of connections.
type DB struct {
	Gorm   *gorm.DB
	SQL    *sql.DB
	X      *sqlx.DB
	Driver string
}

// Connect opens the database named by databaseURL. postgres:// and
// postgresql:// URLs go to Postgres, sqlite:// URLs (or bare paths) to a
// local SQLite file.
func Connect(databaseURL string) (*DB, error) {
	driver, dsn, err := parseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var dialector gorm.Dialector
	sqlxDriver := ""
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
		sqlxDriver = "pgx"
	case DriverSQLite:
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		dialector = sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: sqliteDSN(dsn)})
		sqlxDriver = "sqlite"
	}

	gdb, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}

	if driver == DriverSQLite {
		// One writer at a time; busy_timeout covers the rest.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{
		Gorm:   gdb,
		SQL:    sqlDB,
		X:      sqlx.NewDb(sqlDB, sqlxDriver),
		Driver: driver,
	}, nil
}

// Ping reports whether the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.SQL.PingContext(ctx)
}

// Close closes the shared pool.
func (d *DB) Close() error {
	return d.SQL.Close()
}

func parseURL(databaseURL string) (string, string, error) {
	switch {
	case databaseURL == "":
		return "", "", fmt.Errorf("DATABASE_URL is required")
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DriverPostgres, databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite URL has no path: %s", databaseURL)
		}
		return DriverSQLite, path, nil
	case strings.Contains(databaseURL, "://"):
		return "", "", fmt.Errorf("unsupported database URL scheme: %s", databaseURL)
	default:
		return DriverSQLite, databaseURL, nil
	}
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

func ensureDir(path string) error {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}
