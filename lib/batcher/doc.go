// Package batcher groups concurrent bulk appends of one database into a single
// log row, so n concurrent writers cost one paxos round instead of n.
package batcher
