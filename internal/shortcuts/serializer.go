package shortcuts

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/lock"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/metrics"
)

// DefaultLockTimeout bounds how long a mutation waits for the document lock.
const DefaultLockTimeout = 30 * time.Second

// repairLockTimeout bounds the wait of repairs piggybacking on reads.
const repairLockTimeout = 2 * time.Second

const (
	outcomeOK          = "ok"
	outcomeError       = "error"
	outcomeLockTimeout = "lock_timeout"
	lockScopeMutation  = "mutation"
)

// ChangeSet describes what a mutation touched.
type ChangeSet struct {
	Changed   bool
	Keys      []string
	UserEmail string
}

// ChangeEvent is published after a committed mutation.
type ChangeEvent struct {
	Operation string
	Version   int64
	Keys      []string
	UserEmail string
}

// ChangeNotifier receives committed changes after the write lock is released.
type ChangeNotifier interface {
	NotifyChange(event ChangeEvent)
}

type writeSerializer struct {
	mutex    *lock.Mutex
	timeout  time.Duration
	state    *tableState
	logger   *zap.Logger
	metrics  *metrics.Recorder
	notifier ChangeNotifier
}

// run executes mutate under the document lock. When the mutation reports a change, even one
// that failed midway, the version advances and the table cache is dropped before the lock is released.
func (w *writeSerializer) run(ctx context.Context, operation string, mutate func(ctx context.Context) (ChangeSet, error)) (int64, error) {
	return w.runWithin(ctx, operation, w.timeout, mutate)
}

func (w *writeSerializer) runWithin(ctx context.Context, operation string, timeout time.Duration, mutate func(ctx context.Context) (ChangeSet, error)) (int64, error) {
	release, err := w.mutex.Acquire(ctx, timeout)
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			w.metrics.LockTimeout(lockScopeMutation)
			w.metrics.Mutation(operation, outcomeLockTimeout)
		}
		return 0, err
	}
	defer release()

	changes, mutateErr := mutate(ctx)
	version := w.state.current()
	if changes.Changed {
		committed, invalidateErr := w.state.commit(ctx)
		version = committed
		if invalidateErr != nil {
			w.logger.Error("table cache invalidation failed",
				zap.String("operation", operation),
				zap.Int64("version", version),
				zap.Error(invalidateErr))
		}
	}
	release()

	if mutateErr != nil {
		w.metrics.Mutation(operation, outcomeError)
		return version, mutateErr
	}
	w.metrics.Mutation(operation, outcomeOK)
	if changes.Changed && w.notifier != nil {
		w.notifier.NotifyChange(ChangeEvent{
			Operation: operation,
			Version:   version,
			Keys:      changes.Keys,
			UserEmail: changes.UserEmail,
		})
	}
	return version, nil
}
