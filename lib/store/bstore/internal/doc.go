// Package internal contains the on-disk encoding used by the bolt store.
//
// Rows live in the "rows" bucket keyed by the big endian log seq, so a cursor
// walks the log in order and Last() yields the max log seq. Row values use a
// flag byte to mark the learned state and which of key, version and value are
// non-null, followed by the fixed size promised / accepted seqs and the
// length prefixed optional fields.
//
// The "keys" bucket is a secondary index with one empty valued entry per row
// that holds a key. Entries are ordered by key, version state, version and log
// seq, which turns the "latest slot of a key" query into a short prefix scan.
package internal
