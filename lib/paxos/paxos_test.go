package paxos

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/kvlog/lib/store"
	"github.com/ValentinKolb/kvlog/lib/store/bstore"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }
func u64Ptr(v uint64) *uint64 { return &v }

// localPeers calls a set of in-process acceptors, some of which can be marked down
type localPeers struct {
	acceptors []*Acceptor
	down      []atomic.Bool
}

func newLocalPeers(t *testing.T, n int) *localPeers {
	t.Helper()
	peers := &localPeers{
		acceptors: make([]*Acceptor, n),
		down:      make([]atomic.Bool, n),
	}
	for i := range peers.acceptors {
		m := bstore.NewManager(t.TempDir(), &bstore.Options{NoSync: true, Timeout: time.Second})
		t.Cleanup(func() { _ = m.Close() })
		peers.acceptors[i] = NewAcceptor(m)
	}
	return peers
}

func (l *localPeers) Size() int {
	return len(l.acceptors)
}

func (l *localPeers) Promise(_ context.Context, db string, logSeq, proposalSeq uint64) ([]PromiseReply, uint64) {
	var replies []PromiseReply
	var rejectedAt uint64
	for i, a := range l.acceptors {
		if l.down[i].Load() {
			continue
		}
		reply, err := a.Promise(db, logSeq, proposalSeq)
		var rejected *RejectedError
		switch {
		case err == nil:
			replies = append(replies, reply)
		case errors.As(err, &rejected):
			rejectedAt = max(rejectedAt, rejected.PromisedSeq)
		}
	}
	return replies, rejectedAt
}

func (l *localPeers) Accept(_ context.Context, db string, logSeq, proposalSeq uint64, entry store.Entry) int {
	count := 0
	for i, a := range l.acceptors {
		if !l.down[i].Load() && a.Accept(db, logSeq, proposalSeq, entry) == nil {
			count++
		}
	}
	return count
}

func (l *localPeers) Learn(_ context.Context, db string, logSeq, proposalSeq uint64) int {
	count := 0
	for i, a := range l.acceptors {
		if !l.down[i].Load() && a.Learn(db, logSeq, proposalSeq) == nil {
			count++
		}
	}
	return count
}

func TestProposalGenerator(t *testing.T) {
	g := NewProposalGenerator(3)
	fixed := time.UnixMilli(1000)
	g.now = func() time.Time { return fixed }

	first := g.Next()
	second := g.Next()
	if second <= first {
		t.Fatalf("proposal numbers not increasing: %d then %d", first, second)
	}
	if NodeOf(first) != 3 || NodeOf(second) != 3 {
		t.Errorf("node index lost: %d, %d", NodeOf(first), NodeOf(second))
	}

	// jump past an observed number of another node
	other := uint64(5000)<<nodeBits | 7
	g.Observe(other)
	if next := g.Next(); next <= other {
		t.Errorf("Next() = %d after observing %d", next, other)
	}

	// the infinity sentinel is ignored
	g.Observe(store.Infinity)
	if next := g.Next(); next == store.Infinity || next>>nodeBits != 5002 {
		t.Errorf("Next() = %d after observing infinity", next)
	}

	// different nodes never collide
	a, b := NewProposalGenerator(0), NewProposalGenerator(1)
	a.now, b.now = g.now, g.now
	if a.Next() == b.Next() {
		t.Errorf("generators of different nodes returned the same number")
	}
}

func TestAcceptorPhases(t *testing.T) {
	peers := newLocalPeers(t, 1)
	a := peers.acceptors[0]
	e := store.Entry{Key: strPtr("k"), Value: []byte("v")}

	tests := []struct {
		name    string
		run     func() error
		wantErr bool
	}{
		{"Promise 10", func() error { _, err := a.Promise("db", 1, 10); return err }, false},
		{"Promise equal is rejected", func() error { _, err := a.Promise("db", 1, 10); return err }, true},
		{"Promise lower is rejected", func() error { _, err := a.Promise("db", 1, 5); return err }, true},
		{"Accept other number is rejected", func() error { return a.Accept("db", 1, 11, e) }, true},
		{"Learn before accept is rejected", func() error { return a.Learn("db", 1, 10) }, true},
		{"Accept promised number", func() error { return a.Accept("db", 1, 10, e) }, false},
		{"Learn wrong number is rejected", func() error { return a.Learn("db", 1, 9) }, true},
		{"Learn", func() error { return a.Learn("db", 1, 10) }, false},
		{"Learn again is a no-op", func() error { return a.Learn("db", 1, 10) }, false},
		{"Accept after learn is a no-op", func() error { return a.Accept("db", 1, 99, store.Entry{}) }, false},
		{"Seq 0 is reserved", func() error { _, err := a.Promise("db", 0, 100); return err }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if (err != nil) != tt.wantErr {
				t.Fatalf("got error %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && store.CodeOf(err) != store.RetCInvalidSeqOrUnknown {
				t.Errorf("unexpected error code %v", store.CodeOf(err))
			}
		})
	}

	// a learned row answers promises with infinity and its value
	reply, err := a.Promise("db", 1, 1000)
	if err != nil {
		t.Fatalf("Promise on learned row failed: %v", err)
	}
	if reply.AcceptedSeq != store.Infinity || !reply.Entry.Equal(e) {
		t.Errorf("unexpected reply on learned row: %+v", reply)
	}

	row, _ := a.ReadRow("db", 1)
	if !row.Learned || row.PromisedSeq != 0 || row.AcceptedSeq != 0 || !row.Entry.Equal(e) {
		t.Errorf("unexpected learned row: %+v", row)
	}
}

func TestProposeChoosesOwnValue(t *testing.T) {
	peers := newLocalPeers(t, 3)
	p := NewProposer(peers, NewProposalGenerator(0))
	e := store.Entry{Key: strPtr("k"), Version: u64Ptr(1), Value: []byte("hello")}

	chosen, err := p.Propose(context.Background(), "db", 1, e)
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if !chosen.Equal(e) {
		t.Fatalf("chosen %+v, want %+v", chosen, e)
	}
	for i, a := range peers.acceptors {
		row, _ := a.ReadRow("db", 1)
		if row == nil || !row.Learned || !row.Entry.Equal(e) {
			t.Errorf("node %d: unexpected row %+v", i, row)
		}
	}
}

func TestProposeAdoptsLearnedValue(t *testing.T) {
	peers := newLocalPeers(t, 3)
	first := NewProposer(peers, NewProposalGenerator(0))
	second := NewProposer(peers, NewProposalGenerator(1))
	ctx := context.Background()

	learned := store.Entry{Value: []byte("first")}
	if _, err := first.Propose(ctx, "db", 1, learned); err != nil {
		t.Fatalf("Propose failed: %v", err)
	}

	// re-proposing a learned slot always yields the learned value
	for i := 0; i < 3; i++ {
		chosen, err := second.Propose(ctx, "db", 1, store.Entry{Value: []byte("second")})
		if err != nil {
			t.Fatalf("Propose failed: %v", err)
		}
		if !chosen.Equal(learned) {
			t.Fatalf("learned value changed: got %q", chosen.Value)
		}
	}
}

func TestProposeAdoptsAcceptedValue(t *testing.T) {
	peers := newLocalPeers(t, 3)
	ctx := context.Background()

	// a proposer that crashed after a single accept
	accepted := store.Entry{Key: strPtr("crashed"), Value: []byte("x")}
	if _, err := peers.acceptors[2].Promise("db", 4, 5); err != nil {
		t.Fatal(err)
	}
	if err := peers.acceptors[2].Accept("db", 4, 5, accepted); err != nil {
		t.Fatal(err)
	}

	p := NewProposer(peers, NewProposalGenerator(0))
	chosen, err := p.Propose(ctx, "db", 4, store.Entry{Value: []byte("mine")})
	if err != nil {
		t.Fatalf("Propose failed: %v", err)
	}
	if !chosen.Equal(accepted) {
		t.Errorf("accepted value was not adopted: %+v", chosen)
	}
}

func TestRejectionCarriesPromise(t *testing.T) {
	a := newLocalPeers(t, 1).acceptors[0]
	if _, err := a.Promise("db", 1, 500); err != nil {
		t.Fatalf("Promise failed: %v", err)
	}

	_, err := a.Promise("db", 1, 20)
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected a RejectedError, got %v", err)
	}
	if rejected.PromisedSeq != 500 {
		t.Errorf("PromisedSeq = %d, want 500", rejected.PromisedSeq)
	}
	if store.CodeOf(err) != store.RetCInvalidSeqOrUnknown {
		t.Errorf("unexpected error code %v", store.CodeOf(err))
	}
}

func TestLaggingClockCatchesUp(t *testing.T) {
	peers := newLocalPeers(t, 3)
	ctx := context.Background()

	fast := NewProposalGenerator(0)
	fast.now = func() time.Time { return time.UnixMilli(10_000_000) }
	if _, err := NewProposer(peers, fast).Propose(ctx, "db", 1, store.Entry{Value: []byte("fast")}); err != nil {
		t.Fatalf("Propose with fast clock failed: %v", err)
	}
	// leave slot 2 promised to the fast clock
	promised := fast.Next()
	for _, a := range peers.acceptors {
		if _, err := a.Promise("db", 2, promised); err != nil {
			t.Fatalf("Promise failed: %v", err)
		}
	}

	slow := NewProposalGenerator(1)
	slow.now = func() time.Time { return time.UnixMilli(1000) }
	p := NewProposer(peers, slow)

	// the first round is rejected everywhere, the second one goes above the promise
	if _, err := p.Propose(ctx, "db", 2, store.Entry{Value: []byte("slow")}); store.CodeOf(err) != store.RetCNoPromiseQuorum {
		t.Fatalf("first round: got %v, want NO_PROMISE_QUORUM", err)
	}
	chosen, err := p.Propose(ctx, "db", 2, store.Entry{Value: []byte("slow")})
	if err != nil {
		t.Fatalf("second round failed: %v", err)
	}
	if string(chosen.Value) != "slow" {
		t.Errorf("chosen = %q, want slow", chosen.Value)
	}
}

func TestProposeQuorumFailures(t *testing.T) {
	tests := []struct {
		name     string
		nodes    int
		down     []int
		wantCode store.RetCode
	}{
		{"One of three down", 3, []int{2}, store.RetCSuccess},
		{"Two of three down", 3, []int{1, 2}, store.RetCNoPromiseQuorum},
		{"Two of five down", 5, []int{0, 4}, store.RetCSuccess},
		{"Three of five down", 5, []int{0, 2, 4}, store.RetCNoPromiseQuorum},
		{"Single node", 1, nil, store.RetCSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			peers := newLocalPeers(t, tt.nodes)
			for _, i := range tt.down {
				peers.down[i].Store(true)
			}
			p := NewProposer(peers, NewProposalGenerator(0))
			_, err := p.Propose(context.Background(), "db", 1, store.Entry{Value: []byte("v")})
			if code := store.CodeOf(err); code != tt.wantCode {
				t.Errorf("got code %v (%v), want %v", code, err, tt.wantCode)
			}
		})
	}
}

// acceptFailPeers drops every accept after promises succeeded
type acceptFailPeers struct {
	*localPeers
}

func (acceptFailPeers) Accept(context.Context, string, uint64, uint64, store.Entry) int {
	return 0
}

func TestProposeNoAcceptQuorum(t *testing.T) {
	peers := acceptFailPeers{newLocalPeers(t, 3)}
	p := NewProposer(peers, NewProposalGenerator(0))

	_, err := p.Propose(context.Background(), "db", 1, store.Entry{Value: []byte("v")})
	if store.CodeOf(err) != store.RetCNoAcceptQuorum {
		t.Errorf("got %v, want NO_ACCEPT_QUORUM", err)
	}
}

func TestCompetingProposersAgree(t *testing.T) {
	peers := newLocalPeers(t, 3)
	ctx := context.Background()

	const proposers = 5
	const slots = 10

	var wg sync.WaitGroup
	chosen := make([][]store.Entry, proposers)
	for i := 0; i < proposers; i++ {
		chosen[i] = make([]store.Entry, slots+1)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := NewProposer(peers, NewProposalGenerator(i))
			for seq := uint64(1); seq <= slots; seq++ {
				value := store.Entry{Value: []byte(fmt.Sprintf("p%d-s%d", i, seq))}
				// retry until this proposer completes a round
				for attempt := 0; attempt < 200; attempt++ {
					c, err := p.Propose(ctx, "db", seq, value)
					if err == nil {
						chosen[i][seq] = c
						break
					}
				}
			}
		}(i)
	}
	wg.Wait()

	for seq := uint64(1); seq <= slots; seq++ {
		var reference *store.Entry
		for i := 0; i < proposers; i++ {
			if chosen[i][seq].IsNull() {
				continue
			}
			if reference == nil {
				reference = &chosen[i][seq]
			} else if !reference.Equal(chosen[i][seq]) {
				t.Fatalf("seq %d: proposers disagree: %q vs %q", seq, reference.Value, chosen[i][seq].Value)
			}
		}
		// every learned copy holds the same value
		for n, a := range peers.acceptors {
			row, _ := a.ReadRow("db", seq)
			if row != nil && row.Learned && reference != nil && !row.Entry.Equal(*reference) {
				t.Errorf("seq %d node %d: learned %q, chosen %q", seq, n, row.Value, reference.Value)
			}
		}
	}
}
