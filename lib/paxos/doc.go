// Package paxos runs one instance of single decree paxos per (database, log seq) slot.
//
// The Acceptor implements the three acceptor phases on top of the local
// stores, the Proposer drives a full round against a Peers implementation.
//
// Phase preconditions on an open row:
//
//	promise(p): p > promised                     -> promised = p, reply (accepted, entry)
//	accept(p):  p == promised                    -> accepted = p, entry = value
//	learn(p):   p == promised && p == accepted   -> learned
//
// A learned row answers every promise with (store.Infinity, entry) and treats
// accept and learn as successful no-ops. Since a learned value always carries
// the highest accepted number, every later round adopts it.
//
// Proposal numbers come from a ProposalGenerator, which keeps them unique per
// node and monotonic per process.
package paxos
