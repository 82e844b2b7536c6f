// Package store provides gorm-backed persistence for users and uploads.
// Every committed mutation is published to the change feed.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/petermazzocco/excel-analytics/internal/feed"
	"github.com/petermazzocco/excel-analytics/models"
)

var (
	// ErrNotFound indicates the requested record does not exist (or is not visible to the caller).
	ErrNotFound = errors.New("record not found")
	// ErrEmailTaken indicates a user with the same email already exists.
	ErrEmailTaken = errors.New("email already registered")
	// ErrOwnerNotFound indicates an upload references a user that does not exist.
	ErrOwnerNotFound = errors.New("upload owner does not exist")
)

// Open connects to the database with the named driver ("postgres" or "sqlite").
func Open(driver, dsn string, debug bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	gormLogger := logger.Default.LogMode(logger.Silent)
	if debug {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// Store provides user and upload persistence.
type Store struct {
	db     *gorm.DB
	feed   feed.Publisher
	logger *slog.Logger
}

// New creates a Store. A nil publisher discards change events.
func New(db *gorm.DB, pub feed.Publisher, logger *slog.Logger) *Store {
	if pub == nil {
		pub = feed.Nop{}
	}
	return &Store{
		db:     db,
		feed:   pub,
		logger: logger.With("component", "store"),
	}
}

// Migrate creates or updates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&models.User{}, &models.Upload{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
