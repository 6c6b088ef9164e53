// Package lock provides per-player single-flight gating.
// The player client holds a player's gate while a game submission is in flight,
// and the settlement poller skips its tick while the gate is held.
package lock

import (
	"context"
	"sync"
	"time"
)

// PlayerLock provides per-player locks keyed by normalized address.
type PlayerLock struct {
	locks sync.Map // map[string]*sync.Mutex
}

// NewPlayerLock creates a new PlayerLock instance.
func NewPlayerLock() *PlayerLock {
	return &PlayerLock{}
}

func (pl *PlayerLock) get(player string) *sync.Mutex {
	if v, ok := pl.locks.Load(player); ok {
		return v.(*sync.Mutex)
	}
	actual, _ := pl.locks.LoadOrStore(player, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// Unlock releases the player's gate.
func (pl *PlayerLock) Unlock(player string) {
	if v, ok := pl.locks.Load(player); ok {
		v.(*sync.Mutex).Unlock()
	}
}

// TryLock attempts to acquire the gate without blocking.
func (pl *PlayerLock) TryLock(player string) bool {
	return pl.get(player).TryLock()
}

// LockContext waits for the gate until ctx is done or timeout elapses.
func (pl *PlayerLock) LockContext(ctx context.Context, player string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for {
		if pl.TryLock(player) {
			return nil
		}
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return ErrLockTimeout
			}
			return ctx.Err()
		case <-t.C:
		}
	}
}
