package kvcache

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("kvcache: database handle is required")

// Entry is the persisted form of a cache value.
type Entry struct {
	Key             string `gorm:"column:cache_key;primaryKey;size:255;not null"`
	Value           string `gorm:"column:cache_value;type:text;not null"`
	ExpiresAtMillis int64  `gorm:"column:expires_at_ms;not null;index:idx_cache_entries_expiry"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "cache_entries"
}

// SQLStoreConfig configures a Store persisted through GORM.
type SQLStoreConfig struct {
	Database      *gorm.DB
	MaxValueBytes int
	Clock         func() time.Time
}

// SQLStore persists entries in the cache_entries table so that snapshots survive
// across requests served by different processes sharing one database.
type SQLStore struct {
	db            *gorm.DB
	maxValueBytes int
	clock         func() time.Time
}

// NewSQLStore constructs a Store backed by the cache_entries table.
func NewSQLStore(cfg SQLStoreConfig) (*SQLStore, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SQLStore{
		db:            cfg.Database,
		maxValueBytes: resolveMaxValueBytes(cfg.MaxValueBytes),
		clock:         clock,
	}, nil
}

func (s *SQLStore) PutAll(ctx context.Context, values map[string]string, ttl time.Duration) error {
	if err := validatePut(values, ttl, s.maxValueBytes); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	now := s.clock()
	expiresAt := now.Add(ttl).UnixMilli()

	entries := make([]Entry, 0, len(values))
	for key, value := range values {
		entries = append(entries, Entry{Key: key, Value: value, ExpiresAtMillis: expiresAt})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("expires_at_ms <= ?", now.UnixMilli()).Delete(&Entry{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"cache_value", "expires_at_ms"}),
		}).CreateInBatches(&entries, 100).Error
	})
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var entry Entry
	err := s.db.WithContext(ctx).
		Where("cache_key = ? AND expires_at_ms > ?", key, s.clock().UnixMilli()).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

func (s *SQLStore) GetAll(ctx context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return result, nil
	}
	var entries []Entry
	if err := s.db.WithContext(ctx).
		Where("cache_key IN ? AND expires_at_ms > ?", keys, s.clock().UnixMilli()).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	for _, entry := range entries {
		result[entry.Key] = entry.Value
	}
	return result, nil
}

func (s *SQLStore) Remove(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&Entry{}).Error
}
