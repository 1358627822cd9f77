package shortcuts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/kvcache"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/lock"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/metrics"
)

const (
	// DefaultTableCacheTTL bounds how long the whole-table cache survives without writes.
	DefaultTableCacheTTL = 6 * time.Hour
	// DefaultChunkSize keeps each cached chunk under the default value ceiling.
	DefaultChunkSize = 90000
)

var (
	errMissingCache = errors.New("cache store is required")
	noOpLogger      = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "shortcuts.service.new"
	opUpsert          = "shortcuts.upsert"
	opDelete          = "shortcuts.delete"
	opBulkImport      = "shortcuts.bulk_import"
	opList            = "shortcuts.list"
	opSetFavorite     = "shortcuts.set_favorite"
	opListFavorites   = "shortcuts.list_favorites"
	opHealFavorites   = "shortcuts.heal_favorites"
	opDuplicateKeys   = "shortcuts.duplicate_keys"
	opRepairDuplicate = "shortcuts.repair_duplicates"

	reasonInvalidInput   = "invalid_input"
	reasonLockTimeout    = "lock_timeout"
	reasonMutationFailed = "mutation_failed"
	reasonNotFound       = "not_found"
	reasonQueryFailed    = "query_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig wires a Service. Database and Cache are required; the rest have defaults.
type ServiceConfig struct {
	Database      *gorm.DB
	Cache         kvcache.Store
	Clock         func() time.Time
	Logger        *zap.Logger
	Metrics       *metrics.Recorder
	Notifier      ChangeNotifier
	LockTimeout   time.Duration
	TableCacheTTL time.Duration
	ChunkSize     int
}

// Service performs every table mutation through one document lock.
type Service struct {
	shortcuts  Sheet[Shortcut]
	favorites  Sheet[Favorite]
	state      *tableState
	serializer *writeSerializer
	clock      func() time.Time
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Cache == nil {
		return nil, newServiceError(opServiceNew, "missing_cache", errMissingCache)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	tableTTL := cfg.TableCacheTTL
	if tableTTL <= 0 {
		tableTTL = DefaultTableCacheTTL
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	shortcutSheet, err := NewShortcutSheet(cfg.Database)
	if err != nil {
		return nil, newServiceError(opServiceNew, "shortcut_sheet", err)
	}
	favoriteSheet, err := NewFavoriteSheet(cfg.Database)
	if err != nil {
		return nil, newServiceError(opServiceNew, "favorite_sheet", err)
	}

	state := newTableState(cfg.Cache, tableTTL, chunkSize, clock)
	return &Service{
		shortcuts: shortcutSheet,
		favorites: favoriteSheet,
		state:     state,
		serializer: &writeSerializer{
			mutex:    lock.New("shortcuts"),
			timeout:  lockTimeout,
			state:    state,
			logger:   logger,
			metrics:  cfg.Metrics,
			notifier: cfg.Notifier,
		},
		clock:  clock,
		logger: logger,
	}, nil
}

// Shortcuts exposes the shortcut table for read-only consumers such as snapshots.
func (s *Service) Shortcuts() Sheet[Shortcut] {
	return s.shortcuts
}

// Version returns the current table version.
func (s *Service) Version() int64 {
	return s.state.current()
}

// UpsertResult reports whether an upsert created or replaced the key and how many rows it removed.
type UpsertResult struct {
	Action   UpsertAction
	Removed  int
	Shortcut Shortcut
	Version  int64
}

// UpsertShortcut replaces every row with the input key by one appended row.
func (s *Service) UpsertShortcut(ctx context.Context, input ShortcutInput) (UpsertResult, error) {
	normalized, err := input.Normalize()
	if err != nil {
		return UpsertResult{}, newServiceError(opUpsert, reasonInvalidInput, err)
	}

	result := UpsertResult{Action: UpsertActionCreated, Shortcut: normalized.toShortcut(s.clock())}
	version, err := s.serializer.run(ctx, opUpsert, func(ctx context.Context) (ChangeSet, error) {
		removed, err := Replace(ctx, s.shortcuts, result.Shortcut, Match(ColumnKey, result.Shortcut.Key))
		result.Removed = removed
		return ChangeSet{Changed: err == nil, Keys: []string{result.Shortcut.Key}}, err
	})
	if err != nil {
		return UpsertResult{}, s.mutationError(opUpsert, err, zap.String("key", normalized.Key))
	}
	if result.Removed > 0 {
		result.Action = UpsertActionUpdated
	}
	result.Version = version
	return result, nil
}

// DeleteResult carries the number of rows removed and the version after the delete.
type DeleteResult struct {
	Removed int
	Version int64
}

// DeleteShortcut removes every row with key. A key with no rows yields ErrNotFound.
func (s *Service) DeleteShortcut(ctx context.Context, rawKey string) (DeleteResult, error) {
	key, err := NormalizeKey(rawKey)
	if err != nil {
		return DeleteResult{}, newServiceError(opDelete, reasonInvalidInput, err)
	}

	var removed int
	version, err := s.serializer.run(ctx, opDelete, func(ctx context.Context) (ChangeSet, error) {
		var err error
		removed, err = DeleteAll(ctx, s.shortcuts, Match(ColumnKey, key))
		if err == nil && removed == 0 {
			return ChangeSet{}, ErrNotFound
		}
		return ChangeSet{Changed: removed > 0, Keys: []string{key}}, err
	})
	if errors.Is(err, ErrNotFound) {
		return DeleteResult{}, newServiceError(opDelete, reasonNotFound, err)
	}
	if err != nil {
		return DeleteResult{}, s.mutationError(opDelete, err, zap.String("key", key))
	}
	return DeleteResult{Removed: removed, Version: version}, nil
}

type ImportRejection struct {
	Index   int    `json:"index"`
	Key     string `json:"key"`
	Message string `json:"message"`
}

type ImportResult struct {
	Created  int               `json:"created"`
	Updated  int               `json:"updated"`
	Rejected []ImportRejection `json:"rejected"`
	Version  int64             `json:"version"`
}

// BulkImport validates every input and applies the valid ones as upserts in one critical section.
// Invalid inputs are reported, never applied.
func (s *Service) BulkImport(ctx context.Context, inputs []ShortcutInput) (ImportResult, error) {
	result := ImportResult{Rejected: []ImportRejection{}}
	accepted := make([]Shortcut, 0, len(inputs))
	now := s.clock()
	for index, input := range inputs {
		normalized, err := input.Normalize()
		if err != nil {
			result.Rejected = append(result.Rejected, ImportRejection{Index: index, Key: input.Key, Message: err.Error()})
			continue
		}
		accepted = append(accepted, normalized.toShortcut(now))
	}
	if len(accepted) == 0 {
		result.Version = s.state.current()
		return result, nil
	}

	version, err := s.serializer.run(ctx, opBulkImport, func(ctx context.Context) (ChangeSet, error) {
		changes := ChangeSet{Keys: make([]string, 0, len(accepted))}
		for _, row := range accepted {
			removed, err := Replace(ctx, s.shortcuts, row, Match(ColumnKey, row.Key))
			if err != nil {
				changes.Changed = changes.Changed || removed > 0
				return changes, err
			}
			changes.Changed = true
			changes.Keys = append(changes.Keys, row.Key)
			if removed > 0 {
				result.Updated++
			} else {
				result.Created++
			}
		}
		return changes, nil
	})
	if err != nil {
		return ImportResult{}, s.mutationError(opBulkImport, err,
			zap.Int("applied", result.Created+result.Updated),
			zap.Int("accepted", len(accepted)))
	}
	result.Version = version
	return result, nil
}

// Listing is the whole shortcut table as of Version.
type Listing struct {
	Rows      []Shortcut
	Version   int64
	FromCache bool
}

// ListShortcuts returns the whole table, served from the table cache when it holds a complete copy.
func (s *Service) ListShortcuts(ctx context.Context) (Listing, error) {
	version := s.state.current()
	rows, ok, err := s.state.load(ctx)
	if err != nil {
		s.logger.Warn("table cache read failed",
			zap.String("operation", opList),
			zap.Error(err))
	}
	if ok {
		return Listing{Rows: rows, Version: version, FromCache: true}, nil
	}

	rows, err = s.shortcuts.ReadAllRows(ctx)
	if err != nil {
		s.logError(opList, reasonQueryFailed, err)
		return Listing{}, newServiceError(opList, reasonQueryFailed, err)
	}
	if err := s.state.save(ctx, rows, version); err != nil {
		s.logger.Warn("table cache write failed",
			zap.String("operation", opList),
			zap.Int("rows", len(rows)),
			zap.Error(err))
	}
	return Listing{Rows: rows, Version: version}, nil
}

func (s *Service) mutationError(operation string, err error, fields ...zap.Field) error {
	if errors.Is(err, lock.ErrLockTimeout) {
		s.logger.Warn("write lock busy",
			append([]zap.Field{zap.String("operation", operation), zap.Error(err)}, fields...)...)
		return newServiceError(operation, reasonLockTimeout, err)
	}
	s.logError(operation, reasonMutationFailed, err, fields...)
	return newServiceError(operation, reasonMutationFailed, err)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("shortcuts service failure", attrs...)
}
