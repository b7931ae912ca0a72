// Package bstore implements store.IStore on top of bolt, with one file per
// logical database.
//
// Layout:
//
//	<data-dir>/db/<h[0:3]>/<h[3:6]>/<h>.bolt
//
// where h is the hex SHA-256 of the database name. The two directory levels
// keep the number of entries per directory small for clusters with many
// databases.
//
// Creation is atomic: the Manager writes a fresh file (buckets plus the
// sentinel row at log seq 0) next to its final location and renames it into
// place, so a crash never leaves a half initialized database behind.
//
// Every mutation runs in a bolt write transaction. Bolt allows a single writer
// per file, which serializes all writes of one database and makes the
// read-check-write done by Update atomic.
package bstore
