package database

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Ishu-sri-001/neuro-nest/models"
)

// Open opens the SQLite database named by dsn.
// "memory" or an empty DSN selects a shared in-memory database.
func Open(dsn string) (*gorm.DB, error) {
	dbLogger := log.With().Str("component", "Database").Logger()

	gormLogger := logger.New(
		&dbLogger,
		logger.Config{
			SlowThreshold:             200 * time.Millisecond, // gorm logger.Default value
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	gormConfig := &gorm.Config{Logger: gormLogger}

	var (
		db  *gorm.DB
		err error
	)
	if dsn == "memory" || dsn == "" {
		dbLogger.Info().Msg("initializing in-memory SQLite database")
		db, err = gorm.Open(sqlite.Open("file::memory:?cache=shared"), gormConfig)
	} else {
		dbLogger.Info().Str("dsn", dsn).Msg("initializing file-based SQLite database")
		dbDir := filepath.Dir(dsn)
		if dbDir != "." && dbDir != "/" {
			if mkdirErr := os.MkdirAll(dbDir, 0755); mkdirErr != nil {
				return nil, errors.Wrapf(mkdirErr, "failed to create database directory '%s'", dbDir)
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), gormConfig)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to database (DSN: '%s')", dsn)
	}

	dbLogger.Info().Msg("database connection established")
	return db, nil
}

// Migrate creates or updates the schema for all persisted models.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Account{},
		&models.DeviceEntry{},
	); err != nil {
		return errors.Wrap(err, "failed to auto-migrate database")
	}
	log.Info().Str("component", "Database").Msg("database migration completed")
	return nil
}
