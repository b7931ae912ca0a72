// Package store defines the durable log table used by every replica of a
// kvlog database, together with the error codes that travel over the wire.
//
// The package focuses on:
//   - A unified interface (IStore) for reading and mutating log rows
//   - The row model (Row, Entry) shared by the paxos engine and the rpc layer
//   - A structured error type with typed return codes
//
// Key Components:
//
//   - IStore Interface: The per-database table of log rows. Besides the plain
//     row operations it offers Update, which runs a read-check-write on a single
//     row inside one write transaction. The paxos acceptor relies on it to make
//     the promise and accept checks atomic.
//
//   - Row / Entry: A row is open, accepted or learned. A learned row has its
//     promised and accepted seq set to null and never changes again. The entry
//     (key, version, value) uses nil for null so that an empty value and a
//     missing value stay distinguishable.
//
//   - Error System: Error wraps a RetCode and a message. RetCode knows its wire
//     name (e.g. KEY_NOT_FOUND) and the HTTP status it maps to.
//
// Implementations:
//
//	- Bolt Store (bstore): one bolt file per database, addressed by the SHA-256
//	  of the database name. Available in the
//	  "github.com/ValentinKolb/kvlog/lib/store/bstore" package.
package store
