// Package cmd implements the command-line interface of kvlog. It provides a
// hierarchical command structure with operations for running a node and
// interacting with a cluster as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a node (kvlog serve host:port host:port ...)
//   - log: Client commands (put, append, get, seq, max, perf)
//   - console: Interactive shell with history and completion
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See kvlog -help for a list of all commands.
package cmd
