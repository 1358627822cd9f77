package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/kvcache"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/shortcuts"
)

const (
	migrationTrimShortcutKeys = "2026-09-14_trim_shortcut_keys"
	migrationDropLegacyCache  = "2026-09-14_drop_legacy_cache_entries"
)

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
		{name: migrationTrimShortcutKeys, apply: trimShortcutKeys},
		{name: migrationDropLegacyCache, apply: dropLegacyCacheEntries},
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

// trimShortcutKeys stores keys in the trimmed form every lookup compares against.
func trimShortcutKeys(db *gorm.DB) error {
	return db.Model(&shortcuts.Shortcut{}).
		Where("shortcut_key <> trim(shortcut_key)").
		Update("shortcut_key", gorm.Expr("trim(shortcut_key)")).Error
}

// dropLegacyCacheEntries removes cached blobs written before META records carried a checksum.
func dropLegacyCacheEntries(db *gorm.DB) error {
	return db.Where("1 = 1").Delete(&kvcache.Entry{}).Error
}
