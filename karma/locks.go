/*
locks.go - Per-(repo, PR) serialization

PURPOSE:
  Events for different pull requests may run concurrently, but events
  for the same (repo, PR number) pair must be serialized: the funding
  gate's read-balance-then-charge sequence is a check-then-act race
  otherwise. keyedMutex hands out one mutex per key, reference-counted
  so idle keys don't accumulate.
*/
package karma

import "sync"

type lockKey struct {
	repoID uint64
	number int
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[lockKey]*lockEntry
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[lockKey]*lockEntry)}
}

// Lock acquires the mutex for (repoID, number) and returns its unlock
// function.
func (k *keyedMutex) Lock(repoID uint64, number int) func() {
	key := lockKey{repoID: repoID, number: number}

	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
