package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/academy-identity/internal/application/port"
	"github.com/alem-hub/academy-identity/internal/domain/shared"
)

// Locker is an in-process port.Locker with TTL semantics.
type Locker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	nowFn func() time.Time
}

var _ port.Locker = (*Locker)(nil)

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]time.Time), nowFn: time.Now}
}

// TryLock implements port.Locker.
func (l *Locker) TryLock(_ context.Context, keys []string, ttl time.Duration) (port.ReleaseFunc, error) {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	for _, k := range sorted {
		if exp, ok := l.held[k]; ok && now.Before(exp) {
			return nil, shared.ErrLocked
		}
	}
	deadline := now.Add(ttl)
	for _, k := range sorted {
		l.held[k] = deadline
	}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		for _, k := range sorted {
			if l.held[k].Equal(deadline) {
				delete(l.held, k)
			}
		}
		return nil
	}, nil
}

// IsLocked implements port.Locker.
func (l *Locker) IsLocked(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exp, ok := l.held[key]
	return ok && l.nowFn().Before(exp), nil
}
