package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/peakstranding/internal/structures"
	"github.com/MarcoPoloResearchLab/peakstranding/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillUsersFromStructures = "2025-06-01_backfill_users_from_structures"

const backfillBatchSize = 500

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillUsersFromStructures, apply: backfillUsersFromStructures},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillUsersFromStructures creates account rows for owners of structures
// stored before the users table existed.
func backfillUsersFromStructures(db *gorm.DB) error {
	var owners []int64
	if err := db.Model(&structures.Structure{}).Distinct("user_id").Pluck("user_id", &owners).Error; err != nil {
		return err
	}
	for start := 0; start < len(owners); start += backfillBatchSize {
		end := start + backfillBatchSize
		if end > len(owners) {
			end = len(owners)
		}
		if err := users.EnsureAccounts(db, owners[start:end]...); err != nil {
			return err
		}
	}
	return nil
}
