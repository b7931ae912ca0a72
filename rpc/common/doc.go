// Package common provides the data structures shared by the kvlog server,
// the peer transport and the clients.
//
// The package focuses on:
//   - Message protocol definition for peer and client bodies
//   - Configuration structures for client and server components
//   - Custom logging implementation on top of the dragonboat logger interface
//
// Key Components:
//
//   - Message: the single body type of every rpc. A promise reply carries the
//     accepted seq and the (key, version, value) triple of a row, an accept
//     request carries the triple to store, probes carry a log seq and a put
//     reply carries the writer and the slot of the new value.
//
//   - MessageType: Enumeration of all message kinds, split into paxos peer
//     operations and client operations.
//
//   - ServerConfig: configuration of one node, including the static peer list
//     (this node first), storage, TLS and rpc settings. The node index used
//     for slot selection is the position of the node in the sorted peer list.
//
//   - ClientConfig: Configuration for client components, controlling endpoints,
//     timeouts and retry behavior.
//
//   - Logger: Custom logging implementation registered as dragonboat logger
//     factory, so every component logger shares one format.
package common
