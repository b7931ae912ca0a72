package server

import (
	"github.com/ValentinKolb/kvlog/lib/paxos"
	"github.com/ValentinKolb/kvlog/rpc/common"
)

// PeerRequest is a paxos peer request decoded from its url and body
type PeerRequest struct {
	MsgType     common.MessageType
	DB          string
	LogSeq      uint64
	ProposalSeq uint64
	Key         string          // only for key_log_seq
	Body        *common.Message // only for accept
}

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request against the local acceptor and returns a response.
	// A rejected or failed request returns an error instead, its RetCode
	// decides the http status of the reply.
	Handle(req *PeerRequest, acceptor *paxos.Acceptor) (resp *common.Message, err error)
}
