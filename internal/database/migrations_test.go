package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/kvcache"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/shortcuts"
)

func TestApplyMigrationsTrimsKeysAndClearsCache(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&shortcuts.Shortcut{}, &kvcache.Entry{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	row := shortcuts.Shortcut{Key: "  ;sig ", Expansion: "Best regards"}
	if err := database.Create(&row).Error; err != nil {
		testContext.Fatalf("failed to insert shortcut: %v", err)
	}
	if err := database.Create(&kvcache.Entry{Key: "SHORTCUTS_META", Value: "{}", ExpiresAtMillis: 1}).Error; err != nil {
		testContext.Fatalf("failed to insert cache entry: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored shortcuts.Shortcut
	if err := database.Where("row_id = ?", row.RowID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload shortcut: %v", err)
	}
	if stored.Key != ";sig" {
		testContext.Fatalf("expected trimmed key, got %q", stored.Key)
	}

	var cached int64
	if err := database.Model(&kvcache.Entry{}).Count(&cached).Error; err != nil {
		testContext.Fatalf("failed to count cache entries: %v", err)
	}
	if cached != 0 {
		testContext.Fatalf("expected cache entries to be cleared, got %d", cached)
	}

	for _, name := range []string{migrationTrimShortcutKeys, migrationDropLegacyCache} {
		var record migrationRecord
		if err := database.Where("name = ?", name).Take(&record).Error; err != nil {
			testContext.Fatalf("expected migration record %s: %v", name, err)
		}
		if record.AppliedAtSeconds == 0 {
			testContext.Fatalf("expected migration timestamp to be set")
		}
	}
}

func TestApplyMigrationsRunsOnce(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "once.db")
	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	if err := database.Create(&kvcache.Entry{Key: "SNAP_x_META", Value: "{}", ExpiresAtMillis: 1}).Error; err != nil {
		testContext.Fatalf("failed to insert cache entry: %v", err)
	}
	if err := Migrate(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to re-run migrations: %v", err)
	}

	var cached int64
	if err := database.Model(&kvcache.Entry{}).Count(&cached).Error; err != nil {
		testContext.Fatalf("failed to count cache entries: %v", err)
	}
	if cached != 1 {
		testContext.Fatalf("applied migrations must not run again, got %d entries", cached)
	}
}
