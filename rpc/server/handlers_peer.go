package server

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/kvlog/lib/paxos"
	"github.com/ValentinKolb/kvlog/lib/store"
	"github.com/ValentinKolb/kvlog/rpc/common"
	"io"
	"net/http"
	"strconv"
	"time"
)

// --------------------------------------------------------------------------
// Paxos peer endpoints
// --------------------------------------------------------------------------

func (s *RPCServer) handlePromise(w http.ResponseWriter, r *http.Request) {
	s.handlePeer(w, r, common.MsgTPromise)
}

func (s *RPCServer) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.handlePeer(w, r, common.MsgTAccept)
}

func (s *RPCServer) handleLearn(w http.ResponseWriter, r *http.Request) {
	s.handlePeer(w, r, common.MsgTLearn)
}

func (s *RPCServer) handleMaxLogSeq(w http.ResponseWriter, r *http.Request) {
	s.handlePeer(w, r, common.MsgTMaxLogSeq)
}

func (s *RPCServer) handleKeyLogSeq(w http.ResponseWriter, r *http.Request) {
	s.handlePeer(w, r, common.MsgTKeyLogSeq)
}

// handlePeer decodes a peer request, runs it through the acceptor adapter
// and writes the serialized reply
func (s *RPCServer) handlePeer(w http.ResponseWriter, r *http.Request, msgType common.MessageType) {
	start := time.Now()
	req, err := s.decodePeerRequest(r, msgType)
	if err == nil {
		var resp *common.Message
		if resp, err = s.adapter.Handle(req, s.acceptor); err == nil {
			err = s.writeMessage(w, resp)
		}
	}
	observeRequest(msgType.String(), err, start)
	if err != nil {
		s.writePeerError(w, err)
	}
}

func (s *RPCServer) decodePeerRequest(r *http.Request, msgType common.MessageType) (*PeerRequest, error) {
	req := &PeerRequest{MsgType: msgType, DB: r.PathValue("db"), Key: r.PathValue("key")}

	var err error
	switch msgType {
	case common.MsgTPromise, common.MsgTAccept, common.MsgTLearn:
		if req.LogSeq, err = parseSeq(r, "log_seq"); err != nil {
			return nil, err
		}
		if req.ProposalSeq, err = parseSeq(r, "proposal_seq"); err != nil {
			return nil, err
		}
	}

	if msgType == common.MsgTAccept {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		req.Body = &common.Message{}
		if err := s.serializer.Deserialize(body, req.Body); err != nil {
			return nil, store.Errorf(store.RetCFailed, "invalid accept body: %v", err)
		}
	}
	return req, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// parseSeq reads a numeric path value
func parseSeq(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, store.Errorf(store.RetCInvalidSeqOrUnknown, "invalid %s %q", name, r.PathValue(name))
	}
	return v, nil
}

// writeMessage serializes msg as reply body
func (s *RPCServer) writeMessage(w http.ResponseWriter, msg *common.Message) error {
	body, err := s.serializer.Serialize(*msg)
	if err != nil {
		return fmt.Errorf("failed to serialize %s reply: %w", msg.MsgType, err)
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(body)
	return nil
}

// writePeerError answers a peer with a serialized error message. A rejected
// paxos phase carries the promise of the row, so the proposer can go above it.
func (s *RPCServer) writePeerError(w http.ResponseWriter, err error) {
	e := asStoreError(err)
	msg := common.NewErrorResponse(e.Error())
	var rejected *paxos.RejectedError
	if errors.As(err, &rejected) {
		msg.Seq = rejected.PromisedSeq
	}

	body, serr := s.serializer.Serialize(*msg)
	if serr != nil {
		Logger.Errorf("failed to serialize error reply: %v", serr)
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(e.Code.HTTPStatus())
	_, _ = w.Write(body)
}

func asStoreError(err error) *store.Error {
	var e *store.Error
	if !errors.As(err, &e) {
		e = store.NewError(store.RetCFailed, err.Error())
	}
	return e
}

// writeError writes err as "CODE: reason" with the status of its code
func writeError(w http.ResponseWriter, err error) {
	e := asStoreError(err)
	http.Error(w, e.Error(), e.Code.HTTPStatus())
}
