// Package server implements one kvlog node. A node serves two surfaces on the
// same http handler: the paxos peer endpoints used by the other nodes and the
// client api.
//
// Peer endpoints (all POST, bodies encoded by the configured serializer):
//
//	/promise/{db}/{log_seq}/{proposal_seq}   phase 1
//	/accept/{db}/{log_seq}/{proposal_seq}    phase 2, body is the (key, version, value) triple
//	/learn/{db}/{log_seq}/{proposal_seq}     phase 3
//	/max_log_seq/{db}                        greatest local log seq
//	/key_log_seq/{db}/{key}                  local best guess for the latest slot of key
//
// The peer endpoints are decoded into a PeerRequest and handled by an
// IRPCServerAdapter against the local paxos.Acceptor.
//
// Client api:
//
//	PUT /{db}/{key}/{version}   write with explicit version
//	PUT /{db}/{key}             write with null version
//	PUT /{db}                   bulk append, concurrent appends share one row
//	GET /{db}/{ref}             ref is a log seq if it only has digits, otherwise a key
//	GET /metrics                prometheus metrics
//
// Writes pick the next slot of the node's residue class (slot mod N equals
// the node index in the sorted peer list) and run one paxos round for it. If
// another value wins the slot, the write moves on to the next slot.
//
// Reads sync the slot before returning it: a row this node has not learned
// yet is resolved by a no-op round, which makes the outcome of the slot
// uniform across the cluster. Concurrent syncs of the same slot are coalesced.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Peers:         []string{"10.0.0.1:8080", "10.0.0.2:8080", "10.0.0.3:8080"},
//	  DataDir:       "/var/lib/kvlog",
//	  TimeoutSecond: 30,
//	  LogLevel:      "info",
//	}
//
//	tlsConfig, _ := http.ClientTLSConfig(filepath.Join(tlsDir, http.CAFile), false)
//	s, err := server.NewRPCServer(
//	  config,
//	  http.NewHttpServerTransport(),
//	  http.NewPeerTransport(config, tlsConfig),
//	  serializer.NewBinarySerializer(),
//	)
//	if err != nil {
//	  log.Fatal(err)
//	}
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
package server
