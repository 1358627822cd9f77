package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrSnapshotExpired is the single signal for a snapshot that cannot be read in full.
	// Callers restart pagination from offset 0 with a new snapshot.
	ErrSnapshotExpired = errors.New("snapshot: expired")
	// ErrSnapshotCreation wraps lock timeouts and cache failures during Begin.
	ErrSnapshotCreation = errors.New("snapshot: creation failed")
	// ErrInvalidPage indicates an offset or limit outside the accepted range.
	ErrInvalidPage = errors.New("snapshot: invalid page request")
)

// Internal reasons behind an expired signal, reported to logs and metrics only.
const (
	ReasonMissingMeta      = "missing_meta"
	ReasonMissingChunk     = "missing_chunk"
	ReasonEncodingMismatch = "encoding_mismatch"
	ReasonCorrupt          = "corrupt"
	ReasonInvalidToken     = "invalid_token"
)

// ExpiredError records why a snapshot read failed closed. It matches ErrSnapshotExpired.
type ExpiredError struct {
	Reason string
	Err    error
}

func (e *ExpiredError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (%s)", ErrSnapshotExpired, e.Reason)
	}
	return fmt.Sprintf("%v (%s): %v", ErrSnapshotExpired, e.Reason, e.Err)
}

func (e *ExpiredError) Is(target error) bool {
	return target == ErrSnapshotExpired
}

func (e *ExpiredError) Unwrap() error {
	return e.Err
}
