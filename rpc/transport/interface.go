package transport

import (
	"context"
	"github.com/ValentinKolb/kvlog/rpc/common"
	"net/http"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// IRPCServerTransport is the interface for the server side transport layer.
// It accepts connections for this node and passes every request to handler.
type IRPCServerTransport interface {
	// Listen starts the transport layer and serves requests until Shutdown is called
	Listen(config common.ServerConfig, handler http.Handler) error
	// Shutdown stops accepting requests and waits for active ones to finish
	Shutdown(ctx context.Context) error
}

// --------------------------------------------------------------------------
// Peer Transport
// --------------------------------------------------------------------------

// IPeerTransport sends the same request to every peer of the cluster, this node included
type IPeerTransport interface {
	// Peers returns the addresses of all peers
	Peers() []string
	// Fanout posts body to path on all peers in parallel and returns every reply
	// keyed by peer, rejections (status != 200) included. Unreachable or timed
	// out peers are left out. If need > 0, Fanout returns as soon as need peers
	// replied with status 200; the remaining requests keep running in the
	// background. Cancelling ctx stops the waiting, but not the requests.
	Fanout(ctx context.Context, path string, body []byte, need int) map[string]*Response
	// Close releases idle connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// Response is a complete reply of a kvlog node
type Response struct {
	// Endpoint is the node that answered
	Endpoint   string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IRPCClientTransport is the interface for the client side transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to one of the endpoints and returns the response.
	// Only transport errors are returned as error, any status code is a response.
	Send(ctx context.Context, method, path string, header http.Header, body []byte) (*Response, error)
	// Close closes the transport connection
	Close() error
}
