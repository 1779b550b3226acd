// Package store persists rounds and participants. Every cross-request
// invariant (one active round, one entry per address per round, unique
// transaction hashes) is enforced by database constraints and conditional
// updates so that it holds across restarts and across processes.
package store

import (
	"context"
	"errors"
	"fmt"

	"roundlottery/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/google/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var (
	ErrNotFound             = errors.New("record not found")
	ErrActiveRoundExists    = errors.New("an active round already exists")
	ErrRoundNotActive       = errors.New("round is not active")
	ErrRoundNotExpired      = errors.New("round window has not elapsed")
	ErrDuplicateParticipant = errors.New("address already entered this round")
	ErrDuplicateTxHash      = errors.New("transaction hash already used")
	ErrPayoutNotRetryable   = errors.New("payout is not in a retryable state")
	ErrPoolOverflow         = errors.New("prize pool would overflow")
)

// Store is the Round Store backed by gorm.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database. sqlite is limited to a single
// connection so writers queue instead of failing with SQLITE_BUSY.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// New wraps an open gorm connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the rounds and participants tables and the partial unique
// index that allows at most one active round.
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&models.Round{}, &models.Participant{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_rounds_single_active ON rounds (status) WHERE status = 'active'`).Error
	if err != nil {
		return fmt.Errorf("create active round index: %w", err)
	}
	logger.Info("Database migration completed")
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
