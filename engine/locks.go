package engine

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	apierrors "github.com/openindex/indexsync/errors"
)

// lockRegistry guarantees at most one in-flight mutation per logical node.
// Owned by the engine instance, never global.
type lockRegistry struct {
	busy    *xsync.MapOf[int64, struct{}]
	retry   time.Duration
	timeout time.Duration
}

func newLockRegistry(retry, timeout time.Duration) *lockRegistry {
	return &lockRegistry{
		busy:    xsync.NewMapOf[int64, struct{}](),
		retry:   retry,
		timeout: timeout,
	}
}

// acquire spin-waits with backoff until the node id is free or the hard
// timeout elapses. A timeout is fatal for the node's current operation.
func (r *lockRegistry) acquire(ctx context.Context, dbID int64) error {
	deadline := time.Now().Add(r.timeout)
	for {
		if _, loaded := r.busy.LoadOrStore(dbID, struct{}{}); !loaded {
			return nil
		}
		if time.Now().After(deadline) {
			return apierrors.ErrLockAcquireTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.retry):
		}
	}
}

func (r *lockRegistry) release(dbID int64) {
	r.busy.Delete(dbID)
}

// held is exposed for tests instrumenting mutual exclusion.
func (r *lockRegistry) held(dbID int64) bool {
	_, ok := r.busy.Load(dbID)
	return ok
}
