package server

import (
	"context"
	"github.com/ValentinKolb/kvlog/lib/store"
	"strconv"
	"time"
)

// --------------------------------------------------------------------------
// Write path
// --------------------------------------------------------------------------

// reserveSlot returns the next slot of this node's residue class above both
// maxSeq and every slot reserved before, so concurrent writes on this node
// never propose for the same slot
func (s *RPCServer) reserveSlot(db string, maxSeq uint64) uint64 {
	slot, _ := s.slots.Compute(db, func(last uint64, _ bool) (uint64, bool) {
		base := max(maxSeq, last)
		return (base/s.clusterSize+1)*s.clusterSize + s.nodeIndex, false
	})
	return slot
}

// round runs one paxos round and records it
func (s *RPCServer) round(ctx context.Context, db string, logSeq uint64, entry store.Entry) (store.Entry, error) {
	start := time.Now()
	chosen, err := s.proposer.Propose(ctx, db, logSeq, entry)
	observeRound(err, start)
	return chosen, err
}

// write stores entry in the next free slot of this node and returns that slot.
// If another value wins the slot, the write moves on to the next slot.
func (s *RPCServer) write(ctx context.Context, db string, entry store.Entry) (uint64, error) {
	for attempt := 0; attempt < writeAttempts; attempt++ {
		maxSeq, err := s.acceptor.MaxLogSeq(db)
		if err != nil {
			return 0, err
		}
		slot := s.reserveSlot(db, maxSeq)

		chosen, err := s.round(ctx, db, slot, entry)
		if err != nil {
			return 0, err
		}
		if chosen.Equal(entry) {
			return slot, nil
		}

		slotsLost.Inc()
		Logger.Debugf("db %s: slot %d taken by another value, retrying", db, slot)
	}
	return 0, store.Errorf(store.RetCFailed, "no free slot found after %d attempts", writeAttempts)
}

// commitAppend writes a batch of appended bodies as one keyless row
func (s *RPCServer) commitAppend(ctx context.Context, db string, value []byte) (uint64, error) {
	if value == nil {
		// an append is never a no-op, even with an empty body
		value = []byte{}
	}
	return s.write(ctx, db, store.Entry{Value: value})
}

// --------------------------------------------------------------------------
// Read path
// --------------------------------------------------------------------------

// sync returns the learned row at logSeq. If this node has not learned the
// row yet, it drives no-op rounds until the slot is decided cluster wide.
func (s *RPCServer) sync(ctx context.Context, db string, logSeq uint64) (*store.Row, error) {
	row, err := s.acceptor.ReadRow(db, logSeq)
	if err != nil {
		return nil, err
	}
	if row != nil && row.Learned {
		syncsLocal.Inc()
		return row, nil
	}

	syncsRound.Inc()
	return s.coalesce(ctx, "sync", db, logSeq)
}

// repair drives a round at logSeq even if this node learned the row already.
// The round carries the decided value to acceptors still holding a stale accept.
func (s *RPCServer) repair(ctx context.Context, db string, logSeq uint64) (*store.Row, error) {
	syncsRepair.Inc()
	return s.coalesce(ctx, "repair", db, logSeq)
}

// coalesce runs syncRounds once for all concurrent callers of the same kind
// and slot. The rounds outlive the cancellation of any single caller.
func (s *RPCServer) coalesce(ctx context.Context, kind, db string, logSeq uint64) (*store.Row, error) {
	key := kind + "\x00" + db + "\x00" + strconv.FormatUint(logSeq, 10)
	v, err, shared := s.syncs.Do(key, func() (interface{}, error) {
		return s.syncRounds(context.WithoutCancel(ctx), db, logSeq)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		Logger.Debugf("db %s: %s of seq %d was shared", db, kind, logSeq)
	}
	return v.(*store.Row).Clone(), nil
}

func (s *RPCServer) syncRounds(ctx context.Context, db string, logSeq uint64) (*store.Row, error) {
	var lastErr error
	for attempt := 0; attempt < syncAttempts; attempt++ {
		chosen, err := s.round(ctx, db, logSeq, store.Entry{})
		if err == nil {
			return &store.Row{LogSeq: logSeq, Learned: true, Entry: chosen}, nil
		}
		lastErr = err
		Logger.Debugf("db %s: sync attempt %d of seq %d failed: %v", db, attempt+1, logSeq, err)
	}
	return nil, store.Errorf(store.RetCSyncFailed, "seq %d: %v", logSeq, lastErr)
}

// getSeq returns the row at logSeq
func (s *RPCServer) getSeq(ctx context.Context, db string, logSeq uint64) (*store.Row, error) {
	if logSeq == 0 {
		return nil, store.NewError(store.RetCLogSeqOutOfRange, "log seq 0 is reserved")
	}

	localMax, err := s.acceptor.MaxLogSeq(db)
	if err != nil {
		return nil, err
	}
	if logSeq > localMax {
		clusterMax, ok := s.peers.MaxLogSeq(ctx, db)
		if !ok {
			return nil, store.Errorf(store.RetCRowNotFound, "seq %d: no quorum answered the max_log_seq probe", logSeq)
		}
		if logSeq > clusterMax {
			return nil, store.Errorf(store.RetCLogSeqOutOfRange, "seq %d is beyond max log seq %d", logSeq, clusterMax)
		}
	}

	row, err := s.sync(ctx, db, logSeq)
	if err != nil {
		return nil, err
	}
	if row.IsNull() {
		return nil, store.Errorf(store.RetCRowNotFound, "seq %d holds no value", logSeq)
	}
	return row, nil
}

// getKey returns the row holding the latest value of key
func (s *RPCServer) getKey(ctx context.Context, db, key string) (*store.Row, error) {
	for attempt := 0; attempt < syncAttempts; attempt++ {
		logSeq, pending, ok := s.peers.KeyLogSeq(ctx, db, key)
		if !ok {
			return nil, store.Errorf(store.RetCRowNotFound, "key %q: no quorum answered the key_log_seq probe", key)
		}
		if logSeq == 0 {
			return nil, store.Errorf(store.RetCKeyNotFound, "key %q", key)
		}

		row, err := s.sync(ctx, db, logSeq)
		if err != nil {
			return nil, err
		}
		if row.Key != nil && *row.Key == key {
			return row, nil
		}

		// the probed slot was accepted for key somewhere but decided otherwise,
		// push the decision to that acceptor so it drops the key before the next probe
		Logger.Debugf("db %s: seq %d does not hold key %q (%d pending), repairing", db, logSeq, key, pending)
		if _, err := s.repair(ctx, db, logSeq); err != nil {
			Logger.Debugf("db %s: repair of seq %d failed: %v", db, logSeq, err)
		}
	}
	return nil, store.Errorf(store.RetCSyncFailed, "key %q: no decided slot found after %d probes", key, syncAttempts)
}
