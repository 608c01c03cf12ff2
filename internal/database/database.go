package database

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/peakstranding/internal/config"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/structures"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// OpenConfig selects the backing store.
type OpenConfig struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	Logger       *zap.Logger
}

// Open establishes a connection for the configured driver and performs schema migrations.
func Open(cfg OpenConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is required")
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverSQLite, "":
		dialector = sqlite.Open(cfg.DSN)
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.Driver == config.DriverPostgres {
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
	} else {
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, cfg.Logger); err != nil {
		return nil, err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("database initialized", zap.String("driver", dialector.Name()))
	}

	return db, nil
}

// Migrate creates or updates the schema and applies pending data migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&structures.Structure{}, &users.Account{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
