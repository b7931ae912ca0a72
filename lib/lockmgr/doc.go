// Package lockmgr implements named in-process locks. Each key (usually a
// database name) maps to its own mutex, so work on different databases never
// blocks each other while work on the same database is serialized.
//
// Entries are reference counted and created on demand: Lock registers the
// caller before blocking on the mutex and Unlock drops the entry once the last
// holder or waiter is gone. The bookkeeping runs inside xsync's Compute, which
// makes the reference count and the map entry change atomically.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager()
//
//	locks.Lock("db1")
//	defer locks.Unlock("db1")
//	// exclusive access to db1
package lockmgr
