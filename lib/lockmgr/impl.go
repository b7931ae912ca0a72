package lockmgr

import (
	"fmt"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
)

// lockEntry is a reference counted mutex. The entry is removed from the
// map once no goroutine holds or waits for the lock.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

type lockMgrImpl struct {
	locks *xsync.MapOf[string, *lockEntry]
}

func NewLockManager() ILockManager {
	return &lockMgrImpl{
		locks: xsync.NewMapOf[string, *lockEntry](),
	}
}

// acquireRef returns the entry for key and registers the caller as user
func (lm *lockMgrImpl) acquireRef(key string) *lockEntry {
	entry, _ := lm.locks.Compute(key, func(old *lockEntry, loaded bool) (*lockEntry, bool) {
		if !loaded {
			old = &lockEntry{}
		}
		old.refs++
		return old, false
	})
	return entry
}

// releaseRef removes the caller as user of key, optionally unlocking the mutex
func (lm *lockMgrImpl) releaseRef(key string, unlock bool) {
	lm.locks.Compute(key, func(old *lockEntry, loaded bool) (*lockEntry, bool) {
		if !loaded {
			panic(fmt.Sprintf("lockmgr: unlock of unlocked key %q", key))
		}
		if unlock {
			old.mu.Unlock()
		}
		old.refs--
		return old, old.refs == 0
	})
}

func (lm *lockMgrImpl) Lock(key string) {
	lm.acquireRef(key).mu.Lock()
}

func (lm *lockMgrImpl) TryLock(key string) bool {
	if lm.acquireRef(key).mu.TryLock() {
		return true
	}
	lm.releaseRef(key, false)
	return false
}

func (lm *lockMgrImpl) Unlock(key string) {
	lm.releaseRef(key, true)
}

// Len returns the number of keys that are currently locked or waited on.
// Only used for tests and debugging.
func (lm *lockMgrImpl) Len() int {
	return lm.locks.Size()
}
