// Package snapshot materializes the shortcut table into token-scoped cache entries and pages over them.
//
// Snapshot reads are point-in-time: writers are not blocked by, and do not invalidate,
// outstanding snapshots. A snapshot disappears only through TTL expiry or cache eviction.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/kvcache"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/lock"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/metrics"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/shortcuts"
)

const (
	DefaultTTL          = 5 * time.Minute
	DefaultLockTimeout  = 5 * time.Second
	DefaultPageSize     = 500
	DefaultMaxPageLimit = 2000
	DefaultChunkSize    = 90000

	namespacePrefix   = "SNAP_"
	lockScopeSnapshot = "snapshot"
)

var (
	errMissingRows  = errors.New("row source is required")
	errMissingCache = errors.New("cache store is required")
)

// RowSource performs the single full-table scan of a snapshot.
type RowSource interface {
	ReadAllRows(ctx context.Context) ([]shortcuts.Shortcut, error)
}

// Info describes a created snapshot; it never carries the rows.
type Info struct {
	Token    string
	Total    int
	BuiltAt  time.Time
	PageSize int
}

// ManagerConfig wires a Manager. Zero durations and sizes fall back to the package defaults.
type ManagerConfig struct {
	Rows        RowSource
	Cache       kvcache.Store
	Clock       func() time.Time
	Logger      *zap.Logger
	Metrics     *metrics.Recorder
	TTL         time.Duration
	LockTimeout time.Duration
	ChunkSize   int
	PageSize    int
	NewToken    func() (string, error)
}

// Manager creates snapshots. Creation is serialized by its own lock, separate from the write lock.
type Manager struct {
	rows        RowSource
	cache       kvcache.Store
	clock       func() time.Time
	logger      *zap.Logger
	metrics     *metrics.Recorder
	ttl         time.Duration
	lockTimeout time.Duration
	chunkSize   int
	pageSize    int
	newToken    func() (string, error)
	mutex       *lock.Mutex
}

// NewManager validates cfg and returns a Manager ready to create snapshots.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Rows == nil {
		return nil, errMissingRows
	}
	if cfg.Cache == nil {
		return nil, errMissingCache
	}
	manager := &Manager{
		rows:        cfg.Rows,
		cache:       cfg.Cache,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		ttl:         cfg.TTL,
		lockTimeout: cfg.LockTimeout,
		chunkSize:   cfg.ChunkSize,
		pageSize:    cfg.PageSize,
		newToken:    cfg.NewToken,
		mutex:       lock.New(lockScopeSnapshot),
	}
	if manager.clock == nil {
		manager.clock = time.Now
	}
	if manager.logger == nil {
		manager.logger = zap.NewNop()
	}
	if manager.ttl <= 0 {
		manager.ttl = DefaultTTL
	}
	if manager.lockTimeout <= 0 {
		manager.lockTimeout = DefaultLockTimeout
	}
	if manager.chunkSize <= 0 {
		manager.chunkSize = DefaultChunkSize
	}
	if manager.pageSize <= 0 {
		manager.pageSize = DefaultPageSize
	}
	if manager.newToken == nil {
		manager.newToken = newRandomToken
	}
	return manager, nil
}

// Begin scans the table once and stores the rows under a fresh token with the snapshot TTL.
func (m *Manager) Begin(ctx context.Context) (Info, error) {
	release, err := m.mutex.Acquire(ctx, m.lockTimeout)
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			m.metrics.LockTimeout(lockScopeSnapshot)
			m.logger.Warn("snapshot lock busy", zap.Duration("timeout", m.lockTimeout))
		}
		return Info{}, fmt.Errorf("%w: %w", ErrSnapshotCreation, err)
	}
	defer release()

	rows, err := m.rows.ReadAllRows(ctx)
	if err != nil {
		m.logger.Error("snapshot table scan failed", zap.Error(err))
		return Info{}, fmt.Errorf("%w: %w", ErrSnapshotCreation, err)
	}
	if rows == nil {
		rows = []shortcuts.Shortcut{}
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrSnapshotCreation, err)
	}

	token, err := m.newToken()
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrSnapshotCreation, err)
	}
	builtAt := m.clock().UTC()
	meta, err := kvcache.WriteBlob(ctx, m.cache, namespace(token), string(payload), kvcache.BlobOptions{
		ChunkSize: m.chunkSize,
		TTL:       m.ttl,
		Now:       builtAt,
	})
	if err != nil {
		m.logger.Error("snapshot cache write failed",
			zap.String("token", token),
			zap.Int("rows", len(rows)),
			zap.Error(err))
		return Info{}, fmt.Errorf("%w: %w", ErrSnapshotCreation, err)
	}

	m.metrics.SnapshotCreated()
	m.logger.Debug("snapshot created",
		zap.String("token", token),
		zap.Int("rows", len(rows)),
		zap.Int("chunks", meta.ChunkCount))
	return Info{Token: token, Total: len(rows), BuiltAt: builtAt, PageSize: m.pageSize}, nil
}

func namespace(token string) string {
	return namespacePrefix + token
}

func newRandomToken() (string, error) {
	token, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return token.String(), nil
}
