// Package lock serialises deployments of the same workload. Runs of different
// workloads never contend.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrHeld is returned when the key stays locked by another holder until the
// caller stops waiting.
var ErrHeld = errors.New("lock held by another run")

// pollInterval is how often a waiting caller retries.
const pollInterval = 100 * time.Millisecond

// UnlockFunc releases a held lock. Releasing a lock that expired and was
// taken by someone else is a no-op.
type UnlockFunc func(ctx context.Context) error

// Locker acquires per-key locks. Lock tries once immediately, then polls
// until ctx is done, returning ErrHeld if the key never frees up.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// acquireLoop drives try until it succeeds, fails, or ctx ends.
func acquireLoop(ctx context.Context, try func() (bool, error)) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ok, err := try()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ErrHeld
		case <-ticker.C:
		}
	}
}

// =============================================================================
// Local Locker
// =============================================================================

// Local is an in-process Locker.
type Local struct {
	mu    sync.Mutex
	held  map[string]localEntry
	clock func() time.Time
}

type localEntry struct {
	token   string
	expires time.Time
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]localEntry), clock: time.Now}
}

func (l *Local) Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	token := uuid.NewString()

	err := acquireLoop(ctx, func() (bool, error) {
		l.mu.Lock()
		defer l.mu.Unlock()

		now := l.clock()
		if e, ok := l.held[key]; ok && (e.expires.IsZero() || now.Before(e.expires)) {
			return false, nil
		}
		entry := localEntry{token: token}
		if ttl > 0 {
			entry.expires = now.Add(ttl)
		}
		l.held[key] = entry
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if e, ok := l.held[key]; ok && e.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}
