package client

import (
	"context"
	"github.com/ValentinKolb/kvlog/lib/paxos"
	"github.com/ValentinKolb/kvlog/lib/store"
	"github.com/ValentinKolb/kvlog/rpc/common"
	"github.com/ValentinKolb/kvlog/rpc/serializer"
	"github.com/ValentinKolb/kvlog/rpc/transport"
	"net/http"
)

// Peers talks to the paxos endpoints of all nodes. It implements paxos.Peers
// and the cluster wide probes used by the read path.
//
// Every call waits for a quorum of successful replies at most; slower peers
// finish in the background.
type Peers struct {
	transport  transport.IPeerTransport
	serializer serializer.IRPCSerializer
}

var _ paxos.Peers = (*Peers)(nil)

// NewPeers creates the peer client on top of a fan-out transport
func NewPeers(t transport.IPeerTransport, s serializer.IRPCSerializer) *Peers {
	return &Peers{transport: t, serializer: s}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see paxos.Peers)
// --------------------------------------------------------------------------

func (p *Peers) Size() int {
	return len(p.transport.Peers())
}

func (p *Peers) Promise(ctx context.Context, db string, logSeq, proposalSeq uint64) ([]paxos.PromiseReply, uint64) {
	replies := p.transport.Fanout(ctx, Path("promise", db, u64(logSeq), u64(proposalSeq)), nil, p.quorum())

	result := make([]paxos.PromiseReply, 0, len(replies))
	var rejectedAt uint64
	for peer, reply := range replies {
		resp, err := decodeReply(p.serializer, reply.Body, common.MsgTPromise)
		switch {
		case err == nil && reply.StatusCode == http.StatusOK:
			result = append(result, paxos.PromiseReply{AcceptedSeq: resp.Seq, Entry: resp.Entry()})
		case resp != nil && resp.MsgType == common.MsgTError:
			Logger.Debugf("promise %d rejected by %s: %v", proposalSeq, peer, err)
			rejectedAt = max(rejectedAt, resp.Seq)
		default:
			Logger.Warningf("invalid promise reply from %s: %v", peer, err)
		}
	}
	return result, rejectedAt
}

func (p *Peers) Accept(ctx context.Context, db string, logSeq, proposalSeq uint64, entry store.Entry) int {
	body, err := p.serializer.Serialize(*common.NewAcceptRequest(entry))
	if err != nil {
		Logger.Errorf("failed to serialize accept request: %v", err)
		return 0
	}
	replies := p.transport.Fanout(ctx, Path("accept", db, u64(logSeq), u64(proposalSeq)), body, p.quorum())
	return p.countSuccess(replies)
}

func (p *Peers) Learn(ctx context.Context, db string, logSeq, proposalSeq uint64) int {
	replies := p.transport.Fanout(ctx, Path("learn", db, u64(logSeq), u64(proposalSeq)), nil, p.quorum())
	return p.countSuccess(replies)
}

// --------------------------------------------------------------------------
// Probes
// --------------------------------------------------------------------------

// MaxLogSeq returns the greatest log seq reported by a quorum of peers.
// ok is false if fewer than a quorum answered.
func (p *Peers) MaxLogSeq(ctx context.Context, db string) (maxSeq uint64, ok bool) {
	replies := p.transport.Fanout(ctx, Path("max_log_seq", db), nil, p.quorum())

	answered := 0
	for peer, reply := range p.successes(replies) {
		resp, err := decodeReply(p.serializer, reply.Body, common.MsgTMaxLogSeq)
		if err != nil {
			Logger.Warningf("invalid max_log_seq reply from %s: %v", peer, err)
			continue
		}
		answered++
		maxSeq = max(maxSeq, resp.Seq)
	}
	return maxSeq, answered >= p.quorum()
}

// KeyLogSeq returns the greatest slot any of a quorum of peers reports for key,
// together with the number of rows holding key that the answering peers have
// not learned yet. ok is false if fewer than a quorum answered.
func (p *Peers) KeyLogSeq(ctx context.Context, db, key string) (logSeq, pending uint64, ok bool) {
	replies := p.transport.Fanout(ctx, Path("key_log_seq", db, key), nil, p.quorum())

	answered := 0
	for peer, reply := range p.successes(replies) {
		resp, err := decodeReply(p.serializer, reply.Body, common.MsgTKeyLogSeq)
		if err != nil {
			Logger.Warningf("invalid key_log_seq reply from %s: %v", peer, err)
			continue
		}
		answered++
		logSeq = max(logSeq, resp.Seq)
		pending += resp.Count
	}
	return logSeq, pending, answered >= p.quorum()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (p *Peers) quorum() int {
	return paxos.Quorum(p.Size())
}

// successes drops the rejections from replies
func (p *Peers) successes(replies map[string]*transport.Response) map[string]*transport.Response {
	for peer, reply := range replies {
		if reply.StatusCode != http.StatusOK {
			if _, err := decodeReply(p.serializer, reply.Body, common.MsgTSuccess); err != nil {
				Logger.Debugf("%s rejected: %v", peer, err)
			}
			delete(replies, peer)
		}
	}
	return replies
}

// countSuccess counts the replies that decode to a success message
func (p *Peers) countSuccess(replies map[string]*transport.Response) int {
	count := 0
	for peer, reply := range p.successes(replies) {
		if _, err := decodeReply(p.serializer, reply.Body, common.MsgTSuccess); err != nil {
			Logger.Warningf("invalid reply from %s: %v", peer, err)
			continue
		}
		count++
	}
	return count
}
