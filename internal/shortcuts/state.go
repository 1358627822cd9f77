package shortcuts

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/kvcache"
)

// TableCachePrefix is the cache namespace of the whole-table read cache.
const TableCachePrefix = "SHORTCUTS"

// tableState owns the table version counter and the whole-table read cache.
// The counter starts at the clock's unix milliseconds so it keeps increasing across restarts.
type tableState struct {
	store     kvcache.Store
	ttl       time.Duration
	chunkSize int
	clock     func() time.Time

	seed    sync.Once
	version atomic.Int64
}

func newTableState(store kvcache.Store, ttl time.Duration, chunkSize int, clock func() time.Time) *tableState {
	return &tableState{store: store, ttl: ttl, chunkSize: chunkSize, clock: clock}
}

func (s *tableState) current() int64 {
	s.seed.Do(func() {
		s.version.Store(s.clock().UnixMilli())
	})
	return s.version.Load()
}

// commit advances the version and drops the cached table. Callers hold the write lock.
func (s *tableState) commit(ctx context.Context) (int64, error) {
	s.current()
	version := s.version.Add(1)
	return version, kvcache.RemoveBlob(ctx, s.store, TableCachePrefix)
}

// load returns the cached table; ok is false on any miss, including a partially expired blob.
func (s *tableState) load(ctx context.Context) ([]Shortcut, bool, error) {
	payload, _, err := kvcache.ReadBlob(ctx, s.store, TableCachePrefix)
	if errors.Is(err, kvcache.ErrBlobMissing) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rows []Shortcut
	if err := json.Unmarshal([]byte(payload), &rows); err != nil {
		return nil, false, err
	}
	return rows, true, nil
}

// save caches rows read at version. A write that committed meanwhile wins: the blob is dropped again.
func (s *tableState) save(ctx context.Context, rows []Shortcut, version int64) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	if _, err := kvcache.WriteBlob(ctx, s.store, TableCachePrefix, string(payload), kvcache.BlobOptions{
		ChunkSize: s.chunkSize,
		TTL:       s.ttl,
		Now:       s.clock(),
	}); err != nil {
		return err
	}
	if s.current() != version {
		return kvcache.RemoveBlob(ctx, s.store, TableCachePrefix)
	}
	return nil
}
