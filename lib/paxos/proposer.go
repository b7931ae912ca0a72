package paxos

import (
	"context"
	"github.com/ValentinKolb/kvlog/lib/store"
)

// Peers is the proposer's view of the cluster. Every call fans out to all
// peers (the local node included) and returns only the successful replies.
type Peers interface {
	// Size returns the number of nodes in the cluster
	Size() int
	// Promise sends phase 1 and returns the replies of all acceptors that promised,
	// plus the greatest promise held by the acceptors that rejected (0 if none did)
	Promise(ctx context.Context, db string, logSeq, proposalSeq uint64) ([]PromiseReply, uint64)
	// Accept sends phase 2 and returns how many acceptors accepted
	Accept(ctx context.Context, db string, logSeq, proposalSeq uint64, entry store.Entry) int
	// Learn sends phase 3 and returns how many acceptors learned
	Learn(ctx context.Context, db string, logSeq, proposalSeq uint64) int
}

// Quorum returns the smallest majority of n nodes
func Quorum(n int) int {
	return n/2 + 1
}

// Proposer drives paxos rounds for slots of any database
type Proposer struct {
	peers Peers
	gen   *ProposalGenerator
}

// NewProposer creates a proposer that numbers its rounds with gen
func NewProposer(peers Peers, gen *ProposalGenerator) *Proposer {
	return &Proposer{peers: peers, gen: gen}
}

// Peers returns the cluster the proposer talks to
func (p *Proposer) Peers() Peers {
	return p.peers
}

// Propose runs one full round for (db, logSeq) with entry as candidate value.
//
// The returned entry is the value chosen by the round. It differs from entry if
// some acceptor had already accepted or learned another value for the slot,
// in which case that value was driven to completion instead. The caller has to
// compare both to find out if its own value made it into the log.
func (p *Proposer) Propose(ctx context.Context, db string, logSeq uint64, entry store.Entry) (store.Entry, error) {
	if logSeq == 0 {
		return store.Entry{}, store.NewError(store.RetCInvalidSeqOrUnknown, "log seq 0 is reserved")
	}

	quorum := Quorum(p.peers.Size())
	proposalSeq := p.gen.Next()

	// phase 1
	replies, rejectedAt := p.peers.Promise(ctx, db, logSeq, proposalSeq)
	p.gen.Observe(rejectedAt)
	if len(replies) < quorum {
		Logger.Debugf("db %s seq %d: %d/%d promises for %d", db, logSeq, len(replies), quorum, proposalSeq)
		return store.Entry{}, store.Errorf(store.RetCNoPromiseQuorum,
			"got %d promises for seq %d, need %d", len(replies), logSeq, quorum)
	}

	// adopt the value with the highest accepted proposal, a learned value wins over everything
	chosen := entry
	var highest uint64
	for _, reply := range replies {
		p.gen.Observe(reply.AcceptedSeq)
		if reply.AcceptedSeq > highest {
			highest = reply.AcceptedSeq
			chosen = reply.Entry
		}
	}

	// phase 2
	if accepted := p.peers.Accept(ctx, db, logSeq, proposalSeq, chosen); accepted < quorum {
		Logger.Debugf("db %s seq %d: %d/%d accepts for %d", db, logSeq, accepted, quorum, proposalSeq)
		return store.Entry{}, store.Errorf(store.RetCNoAcceptQuorum,
			"got %d accepts for seq %d, need %d", accepted, logSeq, quorum)
	}

	// phase 3 is best effort, the value is chosen once a quorum accepted it
	if learned := p.peers.Learn(ctx, db, logSeq, proposalSeq); learned < quorum {
		Logger.Warningf("db %s seq %d: only %d nodes learned %d", db, logSeq, learned, proposalSeq)
	}

	return chosen, nil
}
