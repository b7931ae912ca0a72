package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/kvlog/lib/batcher"
	"github.com/ValentinKolb/kvlog/lib/paxos"
	"github.com/ValentinKolb/kvlog/lib/store/bstore"
	"github.com/ValentinKolb/kvlog/rpc/client"
	"github.com/ValentinKolb/kvlog/rpc/common"
	"github.com/ValentinKolb/kvlog/rpc/serializer"
	"github.com/ValentinKolb/kvlog/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"
	"net/http"
	"time"
)

var Logger = logger.GetLogger("rpc")

const (
	// syncAttempts bounds the no-op rounds of one sync
	syncAttempts = 3
	// writeAttempts bounds how often a write moves on after losing its slot
	writeAttempts = 8
)

// NewRPCServer creates a new RPC server
// It takes a config, the server and peer transports and a serializer as parameters
//
// Usage:
//
//	s, err := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		http.NewPeerTransport(*config, tlsConfig),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	peerTransport transport.IPeerTransport,
	serializer serializer.IRPCSerializer,
) (*RPCServer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	index := config.NodeIndex()
	if index >= paxos.MaxNodes {
		return nil, fmt.Errorf("cluster too large: %d nodes, at most %d supported", len(config.Peers), paxos.MaxNodes)
	}

	stores := bstore.NewManager(config.DataDir, &bstore.Options{
		NoSync:  config.NoSync,
		Timeout: bstore.DefaultOptions().Timeout,
	})
	peers := client.NewPeers(peerTransport, serializer)

	s := &RPCServer{
		config:        config,
		transport:     transport,
		peerTransport: peerTransport,
		serializer:    serializer,
		stores:        stores,
		acceptor:      paxos.NewAcceptor(stores),
		adapter:       NewAcceptorServerAdapter(),
		peers:         peers,
		proposer:      paxos.NewProposer(peers, paxos.NewProposalGenerator(index)),
		nodeIndex:     uint64(index),
		clusterSize:   uint64(len(config.Peers)),
		slots:         xsync.NewMapOf[string, uint64](),
	}
	s.batcher = batcher.New(s.commitAppend, time.Duration(config.BatchLingerMs)*time.Millisecond)

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())
	return s, nil
}

// RPCServer is one kvlog node. It serves the paxos peer endpoints and the
// client api on the same handler.
type RPCServer struct {
	config        common.ServerConfig
	transport     transport.IRPCServerTransport
	peerTransport transport.IPeerTransport
	serializer    serializer.IRPCSerializer

	stores   *bstore.Manager
	acceptor *paxos.Acceptor
	adapter  IRPCServerAdapter
	peers    *client.Peers
	proposer *paxos.Proposer
	batcher  *batcher.Batcher

	// nodeIndex and clusterSize define the residue class of the slots this node writes
	nodeIndex   uint64
	clusterSize uint64
	// slots holds the last slot reserved per database
	slots *xsync.MapOf[string, uint64]
	// syncs coalesces concurrent syncs of the same slot
	syncs singleflight.Group
}

// Handler returns the http handler with all peer and client routes
func (s *RPCServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// paxos peer endpoints
	mux.HandleFunc("POST /promise/{db}/{log_seq}/{proposal_seq}", s.handlePromise)
	mux.HandleFunc("POST /accept/{db}/{log_seq}/{proposal_seq}", s.handleAccept)
	mux.HandleFunc("POST /learn/{db}/{log_seq}/{proposal_seq}", s.handleLearn)
	mux.HandleFunc("POST /max_log_seq/{db}", s.handleMaxLogSeq)
	mux.HandleFunc("POST /key_log_seq/{db}/{key}", s.handleKeyLogSeq)

	// client api
	mux.HandleFunc("PUT /{db}/{key}/{version}", s.handlePut)
	mux.HandleFunc("PUT /{db}/{key}", s.handlePut)
	mux.HandleFunc("PUT /{db}", s.handleAppend)
	mux.HandleFunc("GET /{db}/{ref}", s.handleGet)

	// observability
	mux.HandleFunc("GET /metrics", handleMetrics)

	return mux
}

// Serve initializes the loggers and serves requests until Close is called
func (s *RPCServer) Serve() error {
	if err := common.InitLoggers(s.config.LogLevel); err != nil {
		return err
	}
	return s.transport.Listen(s.config, s.Handler())
}

// Close stops the transport and closes all databases
func (s *RPCServer) Close(ctx context.Context) error {
	var errs []error
	if s.transport != nil {
		errs = append(errs, s.transport.Shutdown(ctx))
	}
	errs = append(errs, s.peerTransport.Close(), s.stores.Close())
	return errors.Join(errs...)
}
