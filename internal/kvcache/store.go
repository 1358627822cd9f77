// Package kvcache provides the bounded key-value cache: every value has a size ceiling
// and a mandatory time-to-live, and expired values are simply absent.
package kvcache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxValueBytes is the per-value ceiling applied when none is configured.
const DefaultMaxValueBytes = 100 * 1024

var (
	// ErrValueTooLarge indicates a value above the store's per-value ceiling.
	ErrValueTooLarge = errors.New("kvcache: value exceeds size ceiling")
	// ErrInvalidTTL indicates a missing or non-positive time-to-live.
	ErrInvalidTTL = errors.New("kvcache: ttl must be positive")
	// ErrInvalidKey indicates an empty key.
	ErrInvalidKey = errors.New("kvcache: key is required")
)

// Store is the bounded cache contract. Missing or expired keys are never an error:
// Get reports ok=false and GetAll omits them.
type Store interface {
	PutAll(ctx context.Context, values map[string]string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	GetAll(ctx context.Context, keys []string) (map[string]string, error)
	Remove(ctx context.Context, key string) error
}

func validatePut(values map[string]string, ttl time.Duration, maxValueBytes int) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTTL, ttl)
	}
	for key, value := range values {
		if key == "" {
			return ErrInvalidKey
		}
		if len(value) > maxValueBytes {
			return fmt.Errorf("%w: key %s holds %d bytes, limit %d", ErrValueTooLarge, key, len(value), maxValueBytes)
		}
	}
	return nil
}

func resolveMaxValueBytes(configured int) int {
	if configured <= 0 {
		return DefaultMaxValueBytes
	}
	return configured
}
