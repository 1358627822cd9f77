package shortcuts

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/kvcache"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (n *recordingNotifier) NotifyChange(event ChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Events() []ChangeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ChangeEvent(nil), n.events...)
}

type testHarness struct {
	service  *Service
	db       *gorm.DB
	cache    *kvcache.MemoryStore
	notifier *recordingNotifier
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:shortcuts_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Shortcut{}, &Favorite{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestHarness(t *testing.T, lockTimeout time.Duration) testHarness {
	t.Helper()
	db := newTestDatabase(t)
	cache := kvcache.NewMemoryStore(kvcache.MemoryStoreConfig{})
	notifier := &recordingNotifier{}
	service, err := NewService(ServiceConfig{
		Database:    db,
		Cache:       cache,
		Clock:       func() time.Time { return time.Unix(1700000000, 0).UTC() },
		Notifier:    notifier,
		LockTimeout: lockTimeout,
		ChunkSize:   64,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return testHarness{service: service, db: db, cache: cache, notifier: notifier}
}

func mustAppendShortcuts(t *testing.T, db *gorm.DB, keys ...string) {
	t.Helper()
	for index, key := range keys {
		row := Shortcut{Key: key, Expansion: fmt.Sprintf("expansion %d", index), UpdatedAtSeconds: int64(index)}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("failed to seed shortcut %q: %v", key, err)
		}
	}
}

func mustAppendFavorites(t *testing.T, db *gorm.DB, email string, keys ...string) {
	t.Helper()
	for _, key := range keys {
		row := Favorite{UserEmail: email, Key: key}
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("failed to seed favorite %q: %v", key, err)
		}
	}
}

func storedKeys(t *testing.T, db *gorm.DB) []string {
	t.Helper()
	var keys []string
	if err := db.Model(&Shortcut{}).Order("row_id ASC").Pluck(ColumnKey, &keys).Error; err != nil {
		t.Fatalf("failed to read keys: %v", err)
	}
	return keys
}

func countFavorites(t *testing.T, db *gorm.DB, email, key string) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&Favorite{}).Where("user_email = ? AND shortcut_key = ?", email, key).Count(&count).Error; err != nil {
		t.Fatalf("failed to count favorites: %v", err)
	}
	return count
}

func holdWriteLock(t *testing.T, service *Service) func() {
	t.Helper()
	release, err := service.serializer.mutex.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("failed to hold write lock: %v", err)
	}
	return release
}
