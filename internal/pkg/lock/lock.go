// Package lock provides per-player locking for the pack purchase flow.
// The balance check, pricing and charge must happen under one lock so a
// player cannot race two purchases into the same volume tier.
package lock

import "sync"

// playerMutex wraps a mutex with reference counting for cleanup.
type playerMutex struct {
	mu       sync.Mutex
	refCount int
}

// PlayerLock provides per-player locking keyed by player identity
// (wallet address). A player's entry exists only while a holder or
// waiter references it; the last release retires it, so the map never
// grows with the player population.
type PlayerLock struct {
	mu    sync.Mutex
	locks map[string]*playerMutex
	pool  sync.Pool
}

// NewPlayerLock creates a new PlayerLock instance.
func NewPlayerLock() *PlayerLock {
	return &PlayerLock{
		locks: make(map[string]*playerMutex),
		pool: sync.Pool{
			New: func() any {
				return &playerMutex{}
			},
		},
	}
}

// acquire returns the player's mutex with its reference count raised.
// Every acquire is paired with exactly one release.
func (pl *PlayerLock) acquire(playerID string) *playerMutex {
	pl.mu.Lock()
	lock, ok := pl.locks[playerID]
	if !ok {
		lock = pl.pool.Get().(*playerMutex)
		pl.locks[playerID] = lock
	}
	lock.refCount++
	pl.mu.Unlock()
	return lock
}

// release drops one reference. The last reference removes the entry and
// returns the mutex to the pool; a holder always carries a reference, so
// a retired mutex is never locked.
func (pl *PlayerLock) release(playerID string) {
	pl.mu.Lock()
	lock, ok := pl.locks[playerID]
	if !ok {
		pl.mu.Unlock()
		return
	}
	lock.refCount--
	last := lock.refCount == 0
	if last {
		delete(pl.locks, playerID)
	}
	pl.mu.Unlock()
	if last {
		pl.pool.Put(lock)
	}
}

// Lock acquires the lock for a player.
func (pl *PlayerLock) Lock(playerID string) {
	pl.acquire(playerID).mu.Lock()
}

// Unlock releases the lock for a player.
func (pl *PlayerLock) Unlock(playerID string) {
	pl.mu.Lock()
	lock, ok := pl.locks[playerID]
	if !ok {
		pl.mu.Unlock()
		return
	}
	lock.refCount--
	last := lock.refCount == 0
	if last {
		delete(pl.locks, playerID)
	}
	pl.mu.Unlock()

	lock.mu.Unlock()
	if last {
		pl.pool.Put(lock)
	}
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false otherwise.
func (pl *PlayerLock) TryLock(playerID string) bool {
	lock := pl.acquire(playerID)
	if lock.mu.TryLock() {
		return true
	}
	pl.release(playerID)
	return false
}

// WithLock executes a function while holding the player's lock.
func (pl *PlayerLock) WithLock(playerID string, fn func() error) error {
	pl.Lock(playerID)
	defer pl.Unlock(playerID)
	return fn()
}

// entryCount reports how many players currently have a live lock entry.
func (pl *PlayerLock) entryCount() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return len(pl.locks)
}
