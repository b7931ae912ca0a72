package store

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
)

// --------------------------------------------------------------------------
// Row Model
// --------------------------------------------------------------------------

// Infinity is the accepted seq reported by a promise on a learned row.
// It is larger than any proposal number, so proposers always adopt learned values.
const Infinity uint64 = math.MaxUint64

// Entry is the payload of a log row. A nil field means null.
type Entry struct {
	Key     *string
	Version *uint64
	Value   []byte
}

// IsNull returns true if key, version and value are all null (no-op entry).
func (e Entry) IsNull() bool {
	return e.Key == nil && e.Version == nil && e.Value == nil
}

// Equal reports whether two entries carry the same key, version and value.
// A nil value and an empty value are different.
func (e Entry) Equal(o Entry) bool {
	if (e.Key == nil) != (o.Key == nil) || (e.Key != nil && *e.Key != *o.Key) {
		return false
	}
	if (e.Version == nil) != (o.Version == nil) || (e.Version != nil && *e.Version != *o.Version) {
		return false
	}
	if (e.Value == nil) != (o.Value == nil) || len(e.Value) != len(o.Value) {
		return false
	}
	for i := range e.Value {
		if e.Value[i] != o.Value[i] {
			return false
		}
	}
	return true
}

// Row is the atomic unit of the replicated log.
//
// PromisedSeq and AcceptedSeq are only meaningful while the row is not learned.
// A learned row has both set to null and is immutable.
type Row struct {
	LogSeq      uint64
	PromisedSeq uint64
	AcceptedSeq uint64
	Learned     bool
	Entry
}

// Clone returns a deep copy of the row.
func (r *Row) Clone() *Row {
	c := *r
	if r.Key != nil {
		k := *r.Key
		c.Key = &k
	}
	if r.Version != nil {
		v := *r.Version
		c.Version = &v
	}
	if r.Value != nil {
		c.Value = append([]byte{}, r.Value...)
	}
	return &c
}

// RowMutator is called with the current state of a row inside a write transaction.
// It may modify the row in place and reports whether the row has to be written back.
// A returned error aborts the transaction without any change.
type RowMutator func(row *Row) (changed bool, err error)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the durable log table of one logical database.
// Every write is atomic: either the full row update is persisted or nothing is.
type IStore interface {
	// Name returns the logical database name.
	Name() string
	// ReadRow returns the row at logSeq or nil if the row does not exist.
	ReadRow(logSeq uint64) (row *Row, err error)
	// MaxLogSeq returns the greatest log seq present (0 for a fresh database).
	MaxLogSeq() (logSeq uint64, err error)
	// InsertOpenRow creates an open row at logSeq. It is a no-op if the row exists.
	InsertOpenRow(logSeq uint64) (err error)
	// UpdatePromise sets the promised seq of the row.
	UpdatePromise(logSeq, proposalSeq uint64) (err error)
	// UpdateAccept sets the accepted seq and the entry of the row.
	UpdateAccept(logSeq, proposalSeq uint64, entry Entry) (err error)
	// MarkLearned sets promised and accepted seq to null.
	MarkLearned(logSeq uint64) (err error)
	// Update runs fn on the row at logSeq (created open if missing) inside one
	// write transaction. The check and the mutation done by fn are atomic.
	Update(logSeq uint64, fn RowMutator) (row *Row, err error)
	// KeyLatestSeq returns the log seq holding the latest value for key, or 0.
	KeyLatestSeq(key string) (logSeq uint64, err error)
	// CountKeysPendingAccept returns how many rows holding key are not learned yet.
	CountKeysPendingAccept(key string) (count uint64, err error)
	// Close closes the underlying file.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new Error with the given code and a formatted message.
func Errorf(code RetCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// CodeOf returns the RetCode of err, RetCFailed for untyped errors and RetCSuccess for nil.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCFailed
}

// ParseError restores an Error from its text form ("CODE" or "CODE: message").
// Text without a known code becomes a RetCFailed error carrying the full text.
func ParseError(text string) *Error {
	text = strings.TrimSpace(text)
	name, msg, _ := strings.Cut(text, ": ")
	for c := RetCSuccess; c <= RetCFailed; c++ {
		if c.String() == name {
			return NewError(c, msg)
		}
	}
	return NewError(RetCFailed, text)
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess             RetCode = iota // 0: Command executed successfully.
	RetCNoSuchDatabase                     // 1: Never returned, databases are created on first use.
	RetCInvalidSeqOrUnknown                // 2: A paxos rpc was rejected by its preconditions.
	RetCNoPromiseQuorum                    // 3: Not enough promises for a round.
	RetCNoAcceptQuorum                     // 4: Not enough accepts for a round.
	RetCLogSeqOutOfRange                   // 5: Log seq beyond the cluster wide maximum.
	RetCKeyNotFound                        // 6: No slot holds the key.
	RetCRowNotFound                        // 7: Row neither local nor resolvable.
	RetCSyncFailed                         // 8: All sync attempts failed.
	RetCFailed                             // 9: Unexpected internal error.
)

// String returns the wire name of the return code.
func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "OK"
	case RetCNoSuchDatabase:
		return "NO_SUCH_DATABASE"
	case RetCInvalidSeqOrUnknown:
		return "INVALID_SEQ_OR_UNKNOWN"
	case RetCNoPromiseQuorum:
		return "NO_PROMISE_QUORUM"
	case RetCNoAcceptQuorum:
		return "NO_ACCEPT_QUORUM"
	case RetCLogSeqOutOfRange:
		return "LOG_SEQ_OUT_OF_RANGE"
	case RetCKeyNotFound:
		return "KEY_NOT_FOUND"
	case RetCRowNotFound:
		return "ROW_NOT_FOUND"
	case RetCSyncFailed:
		return "SYNC_FAILED"
	default:
		return "FAILED"
	}
}

// HTTPStatus maps the return code to the status used on the wire.
func (c RetCode) HTTPStatus() int {
	switch c {
	case RetCSuccess:
		return http.StatusOK
	case RetCLogSeqOutOfRange, RetCKeyNotFound, RetCRowNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
