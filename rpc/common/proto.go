package common

import (
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/kvlog/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message body used for both requests and responses.
// Which fields are used depends on the type of message.
//
// Key, Version and Value are nullable, a nil Value and an empty Value are different.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Seq is the log seq of a reply, the accepted seq of a promise reply, or
	// the promise held by the row in an error reply to a rejected paxos phase
	Seq uint64 `json:"seq,omitempty"`

	// Entry fields, used for: Promise (response), Accept (request)
	Key     *string `json:"key,omitempty"`
	Version *uint64 `json:"version,omitempty"`
	Value   []byte  `json:"value"`

	// Response only fields
	Writer string `json:"writer,omitempty"` // Used for: Put responses
	Count  uint64 `json:"count,omitempty"`  // Used for: KeyLogSeq responses (rows pending accept)
	Err    string `json:"err,omitempty"`    // Empty if no error, otherwise contains the error message
}

// Entry returns the (key, version, value) triple carried by the message
func (m *Message) Entry() store.Entry {
	return store.Entry{Key: m.Key, Version: m.Version, Value: m.Value}
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewPromiseResponse creates a new Promise response carrying the accepted seq and entry of the row
func NewPromiseResponse(acceptedSeq uint64, entry store.Entry) *Message {
	return &Message{
		MsgType: MsgTPromise,
		Seq:     acceptedSeq,
		Key:     entry.Key,
		Version: entry.Version,
		Value:   entry.Value,
	}
}

// NewAcceptRequest creates a new Accept request
func NewAcceptRequest(entry store.Entry) *Message {
	return &Message{
		MsgType: MsgTAccept,
		Key:     entry.Key,
		Version: entry.Version,
		Value:   entry.Value,
	}
}

// NewSuccessResponse creates a new response for operations without a result (accept, learn)
func NewSuccessResponse() *Message {
	return &Message{
		MsgType: MsgTSuccess,
	}
}

// NewMaxLogSeqResponse creates a new MaxLogSeq response
func NewMaxLogSeqResponse(logSeq uint64) *Message {
	return &Message{
		MsgType: MsgTMaxLogSeq,
		Seq:     logSeq,
	}
}

// NewKeyLogSeqResponse creates a new KeyLogSeq response
func NewKeyLogSeqResponse(logSeq, pending uint64) *Message {
	return &Message{
		MsgType: MsgTKeyLogSeq,
		Seq:     logSeq,
		Count:   pending,
	}
}

// NewPutResponse creates a new Put response naming the writer and the slot of the value
func NewPutResponse(writer string, logSeq uint64) *Message {
	return &Message{
		MsgType: MsgTPut,
		Writer:  writer,
		Seq:     logSeq,
	}
}

// NewErrorResponse creates a new Error response, err is the "CODE: reason" text of a store.Error
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTSuccess:
		return "success"
	case MsgTError:
		return "error"
	case MsgTPromise:
		return "promise"
	case MsgTAccept:
		return "accept"
	case MsgTLearn:
		return "learn"
	case MsgTMaxLogSeq:
		return "max_log_seq"
	case MsgTKeyLogSeq:
		return "key_log_seq"
	case MsgTPut:
		return "put"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to MessageType
	switch s {
	case "success":
		*t = MsgTSuccess
	case "error":
		*t = MsgTError
	case "promise":
		*t = MsgTPromise
	case "accept":
		*t = MsgTAccept
	case "learn":
		*t = MsgTLearn
	case "max_log_seq":
		*t = MsgTMaxLogSeq
	case "key_log_seq":
		*t = MsgTKeyLogSeq
	case "put":
		*t = MsgTPut
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Peer operations

	MsgTPromise   // Paxos phase 1
	MsgTAccept    // Paxos phase 2
	MsgTLearn     // Paxos phase 3
	MsgTMaxLogSeq // Probe the greatest local log seq
	MsgTKeyLogSeq // Probe the latest local slot of a key

	// Client operations

	MsgTPut // Result of a put or bulk append
)
