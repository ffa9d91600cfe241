// Package store is the control plane's GORM-backed persistence layer:
// the declarative record of pools, replicas and nexuses across the
// fleet, backed by SQLite (single-node default) or PostgreSQL
// (HA-capable).
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nexusfleet/nexuscore/pkg/controlplane/models"
)

// DatabaseType selects the backend dialect.
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// Config configures the database connection.
type Config struct {
	Type DatabaseType
	DSN  string
}

// GORMStore implements the control plane's persistence layer using GORM,
// supporting SQLite and PostgreSQL via the same code path.
type GORMStore struct {
	db *gorm.DB
}

// New opens the database connection and runs AutoMigrate.
func New(cfg Config) (*GORMStore, error) {
	if cfg.Type == "" {
		cfg.Type = DatabaseTypeSQLite
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case DatabaseTypeSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil && cfg.DSN != ":memory:" {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn := cfg.DSN
		if dsn != ":memory:" {
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
		dialector = sqlite.Open(dsn)
	case DatabaseTypePostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &GORMStore{db: db}, nil
}

// DB returns the underlying GORM connection, for tests and advanced queries.
func (s *GORMStore) DB() *gorm.DB {
	return s.db
}

func convertNotFound(err error, notFound error) error {
	if err == gorm.ErrRecordNotFound {
		return notFound
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value violates unique constraint")
}
