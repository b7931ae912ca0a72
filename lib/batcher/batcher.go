package batcher

import (
	"bytes"
	"context"
	"github.com/ValentinKolb/kvlog/lib/lockmgr"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
	"time"
)

var Logger = logger.GetLogger("batcher")

// CommitFunc writes value as one row of db and returns its log seq
type CommitFunc func(ctx context.Context, db string, value []byte) (uint64, error)

// batch collects the bodies of all callers that share one commit
type batch struct {
	bodies [][]byte
	done   chan struct{}
	seq    uint64
	err    error
}

// dbState is the batching state of one database
type dbState struct {
	mu      sync.Mutex
	pending *batch
}

// Batcher coalesces concurrent appends to the same database into a single commit.
//
// Every caller adds its body to the pending batch of the database and then
// competes for the exclusive commit lock of that database. The winner drains
// the pending batch, concatenates the bodies in the order they were added and
// commits them. Callers whose batch was committed while they waited just read
// the shared result.
type Batcher struct {
	commit CommitFunc
	linger time.Duration
	states *xsync.MapOf[string, *dbState]
	locks  lockmgr.ILockManager
}

// New creates a Batcher. linger is how long a committer waits for more
// bodies before draining the batch, zero disables waiting.
func New(commit CommitFunc, linger time.Duration) *Batcher {
	return &Batcher{
		commit: commit,
		linger: linger,
		states: xsync.NewMapOf[string, *dbState](),
		locks:  lockmgr.NewLockManager(),
	}
}

func (b *Batcher) state(db string) *dbState {
	st, _ := b.states.LoadOrCompute(db, func() *dbState {
		return &dbState{}
	})
	return st
}

// Append adds body to the next commit of db and blocks until that commit finished.
// All callers of one batch get the same log seq and error.
//
// Cancelling ctx only stops the waiting: the body stays in its batch and is
// committed anyway, since other callers depend on the outcome of that commit.
func (b *Batcher) Append(ctx context.Context, db string, body []byte) (uint64, error) {
	st := b.state(db)

	st.mu.Lock()
	if st.pending == nil {
		st.pending = &batch{done: make(chan struct{})}
	}
	bt := st.pending
	bt.bodies = append(bt.bodies, body)
	st.mu.Unlock()

	go b.drain(context.WithoutCancel(ctx), db, st, bt)

	select {
	case <-bt.done:
		return bt.seq, bt.err
	case <-ctx.Done():
		Logger.Debugf("db %s: caller left before its batch was committed: %v", db, ctx.Err())
		return 0, ctx.Err()
	}
}

// drain waits for the commit lock of db and commits bt unless another
// drainer already did
func (b *Batcher) drain(ctx context.Context, db string, st *dbState, bt *batch) {
	b.locks.Lock(db)
	defer b.locks.Unlock(db)

	// committed by another drainer while we waited for the lock
	select {
	case <-bt.done:
		return
	default:
	}

	if b.linger > 0 {
		time.Sleep(b.linger)
	}

	// bt is still the pending batch, only the lock holder drains it
	st.mu.Lock()
	st.pending = nil
	st.mu.Unlock()

	value := bytes.Join(bt.bodies, nil)
	bt.seq, bt.err = b.commit(ctx, db, value)
	if bt.err != nil {
		Logger.Warningf("db %s: commit of %d bodies failed: %v", db, len(bt.bodies), bt.err)
	} else {
		Logger.Debugf("db %s: committed %d bodies (%d bytes) at seq %d", db, len(bt.bodies), len(value), bt.seq)
	}
	close(bt.done)
}

// Pending returns the number of bodies waiting for the next commit of db
func (b *Batcher) Pending(db string) int {
	st, ok := b.states.Load(db)
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.pending == nil {
		return 0
	}
	return len(st.pending.bodies)
}
