package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rl1809/library-ledger/internal/core/domain"
)

var errRowNotLocked = errors.New("row written without holding its lock")

// rowLocks hands out one exclusive lock per key. A lock is a buffered channel
// of size one; holding it means having sent into it.
type rowLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newRowLocks() *rowLocks {
	return &rowLocks{slots: make(map[string]chan struct{})}
}

func (l *rowLocks) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// acquire blocks until key is free, ctx ends, or timeout elapses. A zero
// timeout waits on ctx alone.
func (l *rowLocks) acquire(ctx context.Context, key string, timeout time.Duration) error {
	ch := l.slot(key)

	select {
	case ch <- struct{}{}:
		return nil
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case ch <- struct{}{}:
		return nil
	case <-expired:
		return &domain.LockTimeoutError{Row: key}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *rowLocks) release(key string) {
	<-l.slot(key)
}
