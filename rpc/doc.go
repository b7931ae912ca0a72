// Package rpc is the communication layer of kvlog: the paxos peer protocol
// between nodes and the http api used by clients.
//
// The package is organized into several subpackages:
//
//   - common: The Message protocol, configuration structures, and logging.
//
//   - transport: Network abstractions. The http implementation serves the
//     node handler, fans requests out to all peers and sends client requests
//     round-robin over several endpoints.
//
//   - serializer: Message serialization (Binary, JSON) for converting between
//     Message objects and byte arrays. All nodes of a cluster must agree.
//
//   - client: The paxos peer client (paxos.Peers plus the cluster probes) and
//     the client of the http api.
//
//   - server: One kvlog node, wiring the stores, the paxos engine and the
//     append batcher to the http routes.
package rpc
