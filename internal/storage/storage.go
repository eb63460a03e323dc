// Package storage provides persistent storage for walletd on PostgreSQL.
package storage

import (
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Storage wraps the connection pool every ledger component is built on.
type Storage struct {
	db *sqlx.DB
}

// Config holds storage configuration.
type Config struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sane pool defaults for a moderate-concurrency
// deployment. maxOpenConns sizes the pool per spec.md §5 ("3 in
// session-mode, up to 100 in transaction-mode").
func DefaultConfig(databaseURL string, maxOpenConns int) *Config {
	return &Config{
		DatabaseURL:     databaseURL,
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// New opens the database pool, applies pending migrations and returns a
// ready Storage.
func New(cfg *Config) (*Storage, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := &Storage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	return s, nil
}

// migrate applies every pending up migration embedded in the binary.
func (s *Storage) migrate() error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open migration source: %w", err)
	}

	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("build postgres driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "walletd", driver)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the database connection pool.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying sqlx handle for components that need direct
// query access.
func (s *Storage) DB() *sqlx.DB {
	return s.db
}
