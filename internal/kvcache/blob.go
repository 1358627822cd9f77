package kvcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/codec"
)

const metaSuffix = "_META"

var (
	// ErrBlobMissing indicates that the META record for a prefix is absent.
	ErrBlobMissing = errors.New("kvcache: blob meta record absent")
	// ErrBlobIncomplete indicates that at least one numbered chunk is absent.
	ErrBlobIncomplete = errors.New("kvcache: blob chunk absent")
	// ErrBlobEncoding indicates a META record written by a different encoding version.
	ErrBlobEncoding = errors.New("kvcache: blob encoding mismatch")
	// ErrBlobChecksum indicates decoded content that does not match the META checksum.
	ErrBlobChecksum = errors.New("kvcache: blob checksum mismatch")
	// ErrBlobMeta indicates an unreadable META record.
	ErrBlobMeta = errors.New("kvcache: blob meta record unreadable")
)

// Meta gates reads of the numbered chunk keys stored under a prefix.
type Meta struct {
	ChunkCount int    `json:"chunkCount"`
	Encoding   string `json:"encoding"`
	UpdatedAt  int64  `json:"updatedAt"`
	Checksum   string `json:"checksum"`
}

// BlobOptions controls how a blob is written.
type BlobOptions struct {
	ChunkSize int
	TTL       time.Duration
	Now       time.Time
}

// MetaKey returns the key of the META record for prefix.
func MetaKey(prefix string) string {
	return prefix + metaSuffix
}

// ChunkKey returns the key of the numbered chunk under prefix.
func ChunkKey(prefix string, index int) string {
	return prefix + "_" + strconv.Itoa(index)
}

// WriteBlob encodes text, splits it into chunks and stores the META record and every
// chunk in one PutAll call.
func WriteBlob(ctx context.Context, store Store, prefix, text string, options BlobOptions) (Meta, error) {
	encoded, err := codec.Encode(text)
	if err != nil {
		return Meta{}, err
	}
	chunks, err := codec.Split(encoded, options.ChunkSize)
	if err != nil {
		return Meta{}, err
	}

	meta := Meta{
		ChunkCount: len(chunks),
		Encoding:   codec.Encoding,
		UpdatedAt:  options.Now.UnixMilli(),
		Checksum:   checksum(text),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Meta{}, err
	}

	values := make(map[string]string, len(chunks)+1)
	values[MetaKey(prefix)] = string(metaJSON)
	for index, chunk := range chunks {
		values[ChunkKey(prefix, index)] = chunk
	}
	if err := store.PutAll(ctx, values, options.TTL); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// ReadBlob reassembles the text stored under prefix. It never returns partial data:
// any absent chunk, foreign encoding or checksum mismatch fails the read.
func ReadBlob(ctx context.Context, store Store, prefix string) (string, Meta, error) {
	rawMeta, ok, err := store.Get(ctx, MetaKey(prefix))
	if err != nil {
		return "", Meta{}, err
	}
	if !ok {
		return "", Meta{}, ErrBlobMissing
	}

	var meta Meta
	if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil {
		return "", Meta{}, fmt.Errorf("%w: %v", ErrBlobMeta, err)
	}
	if meta.Encoding != codec.Encoding {
		return "", meta, fmt.Errorf("%w: %q", ErrBlobEncoding, meta.Encoding)
	}
	if meta.ChunkCount < 1 {
		return "", meta, fmt.Errorf("%w: chunk count %d", ErrBlobMeta, meta.ChunkCount)
	}

	keys := make([]string, meta.ChunkCount)
	for index := range keys {
		keys[index] = ChunkKey(prefix, index)
	}
	values, err := store.GetAll(ctx, keys)
	if err != nil {
		return "", meta, err
	}
	parts := make(map[int]string, len(values))
	for index, key := range keys {
		if value, ok := values[key]; ok {
			parts[index] = value
		}
	}
	encoded, err := codec.Join(parts, meta.ChunkCount)
	if err != nil {
		return "", meta, fmt.Errorf("%w: %v", ErrBlobIncomplete, err)
	}

	text, err := codec.Decode(encoded)
	if err != nil {
		return "", meta, err
	}
	if meta.Checksum != "" && checksum(text) != meta.Checksum {
		return "", meta, ErrBlobChecksum
	}
	return text, meta, nil
}

// RemoveBlob drops the META record, which makes every chunk under prefix unreachable.
func RemoveBlob(ctx context.Context, store Store, prefix string) error {
	return store.Remove(ctx, MetaKey(prefix))
}

func checksum(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
