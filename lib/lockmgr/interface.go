package lockmgr

// ILockManager defines the interface for an in-process lock manager.
// Every key names an independent exclusive lock.
type ILockManager interface {
	// Lock blocks until the lock for the given key is held by the caller.
	Lock(key string)

	// TryLock acquires the lock for the given key if it is free.
	// Return a boolean indicating whether the lock was acquired.
	TryLock(key string) (ok bool)

	// Unlock releases the lock for the given key.
	// Unlocking a key that is not locked is a programming error and panics.
	Unlock(key string)
}
