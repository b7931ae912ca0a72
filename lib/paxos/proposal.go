package paxos

import (
	"github.com/ValentinKolb/kvlog/lib/store"
	"sync"
	"time"
)

const (
	// nodeBits is the number of low bits reserved for the node index
	nodeBits = 10
	// MaxNodes is the largest cluster a generator can tell apart
	MaxNodes = 1 << nodeBits
)

// ProposalGenerator creates proposal numbers of the form counter<<10 | node index.
//
// The counter follows the wall clock in milliseconds but never goes backwards
// and jumps past every proposal number observed from other proposers. Two
// generators with different node indices never produce the same number, and
// clock skew only costs extra rounds, never safety.
type ProposalGenerator struct {
	mu        sync.Mutex
	last      uint64
	nodeIndex uint64
	now       func() time.Time
}

// NewProposalGenerator creates a generator for the node at nodeIndex (0 <= nodeIndex < MaxNodes)
func NewProposalGenerator(nodeIndex int) *ProposalGenerator {
	if nodeIndex < 0 || nodeIndex >= MaxNodes {
		panic("paxos: node index out of range")
	}
	return &ProposalGenerator{
		nodeIndex: uint64(nodeIndex),
		now:       time.Now,
	}
}

// Next returns a proposal number strictly larger than every number returned or observed before.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (g *ProposalGenerator) Next() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	counter := uint64(g.now().UnixMilli())
	if counter <= g.last {
		counter = g.last + 1
	}
	g.last = counter
	return counter<<nodeBits | g.nodeIndex
}

// Observe moves the counter past a proposal number seen on the wire, be it
// an accepted number in a promise reply or the promise behind a rejection
func (g *ProposalGenerator) Observe(proposalSeq uint64) {
	if proposalSeq == 0 || proposalSeq == store.Infinity {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if counter := proposalSeq >> nodeBits; counter > g.last {
		g.last = counter
	}
}

// NodeOf returns the node index encoded in a proposal number
func NodeOf(proposalSeq uint64) int {
	return int(proposalSeq & (MaxNodes - 1))
}
