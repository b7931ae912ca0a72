// Package transport defines the interfaces for the kvlog wire layer. Every
// operation is one HTTP(S) request, so the interfaces deal with plain paths
// and bodies and leave encoding to the serializer package.
//
// Key Components:
//
//   - IRPCServerTransport: accepts connections for this node and passes every
//     request to an http.Handler.
//
//   - IPeerTransport: parallel fan-out of one request to all peers, used by
//     the proposer for the paxos phases and by the probes. Only successful
//     replies are returned, callers compare their number with the quorum.
//
//   - IRPCClientTransport: request/response to one of several endpoints, used
//     by client programs.
package transport
