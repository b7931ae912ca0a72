package paxos

import (
	"github.com/ValentinKolb/kvlog/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("paxos")

// StoreOpener gives access to the store of a database, creating it on first use
type StoreOpener interface {
	Open(name string) (store.IStore, error)
}

// PromiseReply is the answer of an acceptor to a promise request.
// AcceptedSeq is store.Infinity if the row is already learned.
type PromiseReply struct {
	AcceptedSeq uint64
	store.Entry
}

// Acceptor implements the acceptor side of single decree paxos for every
// (database, log seq) slot of the local node.
//
// All three phases are idempotent: re-delivered requests either repeat a
// no-op on a learned row or fail their precondition without side effects.
type Acceptor struct {
	stores StoreOpener
}

// NewAcceptor creates an acceptor on top of the given stores
func NewAcceptor(stores StoreOpener) *Acceptor {
	return &Acceptor{stores: stores}
}

// RejectedError is returned when a row refuses a phase. PromisedSeq is the
// promise the row holds, a proposer has to go above it to make progress.
type RejectedError struct {
	Err         *store.Error
	PromisedSeq uint64
}

func (e *RejectedError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the store error, so store.CodeOf reports INVALID_SEQ_OR_UNKNOWN
func (e *RejectedError) Unwrap() error {
	return e.Err
}

// reject builds the error returned when a precondition fails
func reject(phase string, row *store.Row, proposalSeq uint64) error {
	return &RejectedError{
		Err: store.Errorf(store.RetCInvalidSeqOrUnknown,
			"%s %d rejected at row %d (promised %d, accepted %d)",
			phase, proposalSeq, row.LogSeq, row.PromisedSeq, row.AcceptedSeq),
		PromisedSeq: row.PromisedSeq,
	}
}

// open returns the store of db and refuses the reserved sentinel slot
func (a *Acceptor) open(db string, logSeq uint64) (store.IStore, error) {
	if logSeq == 0 {
		return nil, store.NewError(store.RetCInvalidSeqOrUnknown, "log seq 0 is reserved")
	}
	return a.stores.Open(db)
}

// Promise handles phase 1. A learned row answers with the infinity sentinel,
// an open row promises proposalSeq if it is larger than its current promise.
func (a *Acceptor) Promise(db string, logSeq, proposalSeq uint64) (PromiseReply, error) {
	s, err := a.open(db, logSeq)
	if err != nil {
		return PromiseReply{}, err
	}

	row, err := s.Update(logSeq, func(row *store.Row) (bool, error) {
		if row.Learned {
			return false, nil
		}
		if proposalSeq > row.PromisedSeq {
			row.PromisedSeq = proposalSeq
			return true, nil
		}
		return false, reject("promise", row, proposalSeq)
	})
	if err != nil {
		Logger.Debugf("db %s: %v", db, err)
		return PromiseReply{}, err
	}

	if row.Learned {
		return PromiseReply{AcceptedSeq: store.Infinity, Entry: row.Entry}, nil
	}
	return PromiseReply{AcceptedSeq: row.AcceptedSeq, Entry: row.Entry}, nil
}

// Accept handles phase 2. The entry is only stored if proposalSeq is the
// current promise of the row.
func (a *Acceptor) Accept(db string, logSeq, proposalSeq uint64, entry store.Entry) error {
	s, err := a.open(db, logSeq)
	if err != nil {
		return err
	}

	_, err = s.Update(logSeq, func(row *store.Row) (bool, error) {
		if row.Learned {
			return false, nil
		}
		if proposalSeq != 0 && proposalSeq == row.PromisedSeq {
			row.AcceptedSeq = proposalSeq
			row.Entry = entry
			return true, nil
		}
		return false, reject("accept", row, proposalSeq)
	})
	if err != nil {
		Logger.Debugf("db %s: %v", db, err)
	}
	return err
}

// Learn handles phase 3. The row becomes learned if it promised and accepted proposalSeq.
func (a *Acceptor) Learn(db string, logSeq, proposalSeq uint64) error {
	s, err := a.open(db, logSeq)
	if err != nil {
		return err
	}

	_, err = s.Update(logSeq, func(row *store.Row) (bool, error) {
		if row.Learned {
			return false, nil
		}
		if proposalSeq != 0 && row.PromisedSeq == proposalSeq && row.AcceptedSeq == proposalSeq {
			row.Learned = true
			row.PromisedSeq = 0
			row.AcceptedSeq = 0
			return true, nil
		}
		return false, reject("learn", row, proposalSeq)
	})
	if err != nil {
		Logger.Debugf("db %s: %v", db, err)
	}
	return err
}

// MaxLogSeq returns the greatest log seq known locally for db
func (a *Acceptor) MaxLogSeq(db string) (uint64, error) {
	s, err := a.stores.Open(db)
	if err != nil {
		return 0, err
	}
	return s.MaxLogSeq()
}

// KeyLogSeq returns the local best guess of the slot holding the latest value
// of key and how many rows with that key are still pending
func (a *Acceptor) KeyLogSeq(db, key string) (logSeq uint64, pending uint64, err error) {
	s, err := a.stores.Open(db)
	if err != nil {
		return 0, 0, err
	}
	if logSeq, err = s.KeyLatestSeq(key); err != nil {
		return 0, 0, err
	}
	if pending, err = s.CountKeysPendingAccept(key); err != nil {
		return 0, 0, err
	}
	return logSeq, pending, nil
}

// ReadRow returns the local row at (db, logSeq) or nil
func (a *Acceptor) ReadRow(db string, logSeq uint64) (*store.Row, error) {
	s, err := a.stores.Open(db)
	if err != nil {
		return nil, err
	}
	return s.ReadRow(logSeq)
}
