package server

import (
	"fmt"
	"github.com/ValentinKolb/kvlog/lib/paxos"
	"github.com/ValentinKolb/kvlog/lib/store"
	"github.com/ValentinKolb/kvlog/rpc/common"
)

func NewAcceptorServerAdapter() IRPCServerAdapter {
	return &acceptorServerAdapterImpl{}
}

type acceptorServerAdapterImpl struct{}

func (adapter *acceptorServerAdapterImpl) Handle(req *PeerRequest, acceptor *paxos.Acceptor) (*common.Message, error) {
	// Check for nil acceptor
	if acceptor == nil {
		return nil, store.NewError(store.RetCFailed, "handler: acceptor is nil")
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTPromise:
		reply, err := acceptor.Promise(req.DB, req.LogSeq, req.ProposalSeq)
		if err != nil {
			return nil, err
		}
		return common.NewPromiseResponse(reply.AcceptedSeq, reply.Entry), nil
	case common.MsgTAccept:
		if req.Body == nil || req.Body.MsgType != common.MsgTAccept {
			return nil, store.NewError(store.RetCFailed, "accept: missing request body")
		}
		if err := acceptor.Accept(req.DB, req.LogSeq, req.ProposalSeq, req.Body.Entry()); err != nil {
			return nil, err
		}
		return common.NewSuccessResponse(), nil
	case common.MsgTLearn:
		if err := acceptor.Learn(req.DB, req.LogSeq, req.ProposalSeq); err != nil {
			return nil, err
		}
		return common.NewSuccessResponse(), nil
	case common.MsgTMaxLogSeq:
		logSeq, err := acceptor.MaxLogSeq(req.DB)
		if err != nil {
			return nil, err
		}
		return common.NewMaxLogSeqResponse(logSeq), nil
	case common.MsgTKeyLogSeq:
		logSeq, pending, err := acceptor.KeyLogSeq(req.DB, req.Key)
		if err != nil {
			return nil, err
		}
		return common.NewKeyLogSeqResponse(logSeq, pending), nil
	default:
		return nil, store.NewError(store.RetCFailed,
			fmt.Sprintf("RPC AcceptorAdapter - Unsupported message type: %s", req.MsgType))
	}
}
