package database

import (
	"errors"
	"time"

	"github.com/scopedesk/backend/internal/completion"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationSeedCompletionConfig = "2026-08-12_seed_default_completion_config"

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
		{name: migrationSeedCompletionConfig, apply: seedCompletionConfig},
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
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// seedCompletionConfig writes the built-in weighting scheme as version one so
// admin edits always have a predecessor to diff against.
func seedCompletionConfig(db *gorm.DB) error {
	var count int64
	if err := db.Model(&completion.WeightConfig{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	seed := completion.WeightConfig{
		DefinitionJSON:   completion.DefaultDefinitionJSON,
		UpdatedBy:        "system",
		CreatedAtSeconds: time.Now().UTC().Unix(),
	}
	return db.Create(&seed).Error
}
