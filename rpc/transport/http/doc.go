// Package http implements the kvlog transport interfaces over HTTP and HTTPS.
//
// Key Components:
//
//   - peerTransport: Implements IPeerTransport. One pooled http.Client is
//     shared by all rounds and peers. Every fan-out request runs detached from
//     the caller's cancellation and is bounded by the configured timeout only,
//     since all peer operations are idempotent and their effects are kept
//     anyway. Per peer request counters and latency histograms are exported
//     through VictoriaMetrics.
//
//   - httpClientTransport: Implements IRPCClientTransport for client programs,
//     with round-robin selection across endpoints and retries on transport errors.
//
//   - httpServerTransport: Implements IRPCServerTransport. Serves TLS with the
//     node certificate from the tls directory (cert.pem, key.pem), optionally
//     caps concurrent connections and logs every request at debug level.
//
// Thread Safety:
//
//	All transports are safe for concurrent use. The client transport uses an
//	atomic counter for the round-robin selection of endpoints.
package http
