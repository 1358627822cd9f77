package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/codec"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/kvcache"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/metrics"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/shortcuts"
)

// Page is one window of a snapshot. Offset is the offset of the next page.
type Page struct {
	Items   []shortcuts.Shortcut
	Offset  int
	Total   int
	HasMore bool
}

// ReaderConfig wires a Reader. MaxPageLimit defaults to DefaultMaxPageLimit.
type ReaderConfig struct {
	Cache        kvcache.Store
	Logger       *zap.Logger
	Metrics      *metrics.Recorder
	MaxPageLimit int
}

// Reader serves pages from stored snapshots. It never reads the table and never extends a TTL.
type Reader struct {
	cache        kvcache.Store
	logger       *zap.Logger
	metrics      *metrics.Recorder
	maxPageLimit int
}

// NewReader returns a Reader over the snapshot blobs held in cfg.Cache.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	if cfg.Cache == nil {
		return nil, errMissingCache
	}
	reader := &Reader{
		cache:        cfg.Cache,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		maxPageLimit: cfg.MaxPageLimit,
	}
	if reader.logger == nil {
		reader.logger = zap.NewNop()
	}
	if reader.maxPageLimit <= 0 {
		reader.maxPageLimit = DefaultMaxPageLimit
	}
	return reader, nil
}

// MaxPageLimit reports the largest accepted limit.
func (r *Reader) MaxPageLimit() int {
	return r.maxPageLimit
}

// FetchPage returns rows[offset:offset+limit] of the snapshot. Any missing, foreign or corrupt
// piece of the snapshot yields an *ExpiredError; an offset past the end yields an empty page.
func (r *Reader) FetchPage(ctx context.Context, token string, offset, limit int) (Page, error) {
	if offset < 0 {
		return Page{}, fmt.Errorf("%w: offset %d", ErrInvalidPage, offset)
	}
	if limit < 1 || limit > r.maxPageLimit {
		return Page{}, fmt.Errorf("%w: limit %d outside 1..%d", ErrInvalidPage, limit, r.maxPageLimit)
	}
	if parsed, err := uuid.Parse(token); err != nil || parsed.String() != token {
		return Page{}, r.expired(token, ReasonInvalidToken, err)
	}

	payload, _, err := kvcache.ReadBlob(ctx, r.cache, namespace(token))
	if err != nil {
		if reason, ok := expiryReason(err); ok {
			return Page{}, r.expired(token, reason, err)
		}
		r.logger.Error("snapshot cache read failed", zap.String("token", token), zap.Error(err))
		return Page{}, err
	}

	var rows []shortcuts.Shortcut
	if err := json.Unmarshal([]byte(payload), &rows); err != nil {
		return Page{}, r.expired(token, ReasonCorrupt, err)
	}

	total := len(rows)
	start := min(offset, total)
	end := min(start+limit, total)
	items := make([]shortcuts.Shortcut, end-start)
	copy(items, rows[start:end])

	r.metrics.PageServed()
	return Page{
		Items:   items,
		Offset:  offset + len(items),
		Total:   total,
		HasMore: end < total,
	}, nil
}

func (r *Reader) expired(token, reason string, cause error) error {
	r.metrics.SnapshotExpired(reason)
	r.logger.Info("snapshot expired",
		zap.String("token", token),
		zap.String("reason", reason),
		zap.Error(cause))
	return &ExpiredError{Reason: reason, Err: cause}
}

func expiryReason(err error) (string, bool) {
	switch {
	case errors.Is(err, kvcache.ErrBlobMissing):
		return ReasonMissingMeta, true
	case errors.Is(err, kvcache.ErrBlobIncomplete):
		return ReasonMissingChunk, true
	case errors.Is(err, kvcache.ErrBlobEncoding):
		return ReasonEncodingMismatch, true
	case errors.Is(err, kvcache.ErrBlobMeta),
		errors.Is(err, kvcache.ErrBlobChecksum),
		errors.Is(err, codec.ErrDecompression):
		return ReasonCorrupt, true
	default:
		return "", false
	}
}
