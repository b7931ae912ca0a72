package batcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recorder is a CommitFunc that stores every committed value and can hold the first commit
type recorder struct {
	mu      sync.Mutex
	values  map[uint64]string
	next    atomic.Uint64
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
}

func newRecorder(gated bool) *recorder {
	r := &recorder{values: map[uint64]string{}, entered: make(chan struct{})}
	if gated {
		r.gate = make(chan struct{})
	}
	return r
}

func (r *recorder) commit(_ context.Context, _ string, value []byte) (uint64, error) {
	first := false
	r.once.Do(func() { first = true; close(r.entered) })
	if first && r.gate != nil {
		<-r.gate
	}
	seq := r.next.Add(1)
	r.mu.Lock()
	r.values[seq] = string(value)
	r.mu.Unlock()
	return seq, nil
}

// waitPending blocks until db has n pending bodies
func waitPending(t *testing.T, b *Batcher, db string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for b.Pending(db) != n {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %d pending bodies, have %d", n, b.Pending(db))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSingleAppend(t *testing.T) {
	r := newRecorder(false)
	b := New(r.commit, 0)

	seq, err := b.Append(context.Background(), "db", []byte("hello"))
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if r.values[seq] != "hello" {
		t.Errorf("committed %q, want %q", r.values[seq], "hello")
	}
	if b.Pending("db") != 0 {
		t.Errorf("batch not drained")
	}
}

func TestBatchKeepsEnqueueOrder(t *testing.T) {
	r := newRecorder(true)
	b := New(r.commit, 0)
	ctx := context.Background()

	// the first commit blocks and holds the lock of db
	blockerDone := make(chan uint64)
	go func() {
		seq, _ := b.Append(ctx, "db", []byte("blocker"))
		blockerDone <- seq
	}()
	<-r.entered

	bodies := []string{"x", "y", "z"}
	seqs := make([]uint64, len(bodies))
	var wg sync.WaitGroup
	for i, body := range bodies {
		wg.Add(1)
		go func(i int, body string) {
			defer wg.Done()
			seq, err := b.Append(ctx, "db", []byte(body))
			if err != nil {
				t.Errorf("Append(%s) failed: %v", body, err)
			}
			seqs[i] = seq
		}(i, body)
		waitPending(t, b, "db", i+1)
	}

	close(r.gate)
	blockerSeq := <-blockerDone
	wg.Wait()

	for i := range seqs {
		if seqs[i] != seqs[0] {
			t.Fatalf("batched callers got different seqs: %v", seqs)
		}
	}
	if seqs[0] == blockerSeq {
		t.Fatalf("batch shares the seq of the previous commit")
	}
	if got := r.values[seqs[0]]; got != "xyz" {
		t.Errorf("batch value = %q, want %q", got, "xyz")
	}
	if r.values[blockerSeq] != "blocker" {
		t.Errorf("blocker value = %q", r.values[blockerSeq])
	}
}

func TestDatabasesAreIndependent(t *testing.T) {
	r := newRecorder(true)
	b := New(r.commit, 0)
	ctx := context.Background()

	go func() { _, _ = b.Append(ctx, "slow", []byte("a")) }()
	<-r.entered

	// a blocked commit of one database does not hold back another
	done := make(chan struct{})
	go func() {
		_, _ = b.Append(ctx, "fast", []byte("b"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("append to an independent database blocked")
	}
	close(r.gate)
}

func TestCommitErrorIsShared(t *testing.T) {
	failure := errors.New("no quorum")
	gate := make(chan struct{})
	entered := make(chan struct{})
	var calls atomic.Int32

	b := New(func(context.Context, string, []byte) (uint64, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-gate
			return 1, nil
		}
		return 0, failure
	}, 0)
	ctx := context.Background()

	go func() { _, _ = b.Append(ctx, "db", []byte("first")) }()
	<-entered

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = b.Append(ctx, "db", []byte("v"))
		}(i)
		waitPending(t, b, "db", i+1)
	}
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, failure) {
			t.Errorf("caller %d: got %v, want %v", i, err, failure)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("expected 2 commits, got %d", n)
	}
}

func TestLingerCollectsConcurrentAppends(t *testing.T) {
	r := newRecorder(false)
	b := New(r.commit, 200*time.Millisecond)
	ctx := context.Background()

	seqs := make([]uint64, 3)
	var wg sync.WaitGroup
	for i := range seqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seqs[i], _ = b.Append(ctx, "db", []byte{'a' + byte(i)})
		}(i)
		waitPending(t, b, "db", i+1)
	}
	wg.Wait()

	if seqs[0] != seqs[1] || seqs[1] != seqs[2] {
		t.Fatalf("appends within the linger window were not batched: %v", seqs)
	}
	if got := r.values[seqs[0]]; got != "abc" {
		t.Errorf("batch value = %q, want %q", got, "abc")
	}
}

func TestCancelledCallerStopsWaiting(t *testing.T) {
	r := newRecorder(true)
	b := New(r.commit, 0)

	go func() { _, _ = b.Append(context.Background(), "db", []byte("first")) }()
	<-r.entered

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := b.Append(ctx, "db", []byte("second"))
		errCh <- err
	}()
	waitPending(t, b, "db", 1)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("cancelled caller still waits for the commit lock")
	}

	// the body of the cancelled caller is committed anyway
	close(r.gate)
	deadline := time.Now().Add(5 * time.Second)
	for {
		r.mu.Lock()
		got := r.values[2]
		r.mu.Unlock()
		if got == "second" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("body of the cancelled caller was not committed, have %q", got)
		}
		time.Sleep(time.Millisecond)
	}
}
