package internal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/kvlog/lib/store"
)

// Bit flags to indicate which optional fields of a row are present
const (
	flagLearned    byte = 1 << 0
	flagHasKey     byte = 1 << 1
	flagHasVersion byte = 1 << 2
	flagHasValue   byte = 1 << 3
)

// --------------------------------------------------------------------------
// Row Keys
// --------------------------------------------------------------------------

// EncodeSeq encodes a log seq as big endian so that bolt orders rows by log seq
func EncodeSeq(logSeq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, logSeq)
	return b
}

// DecodeSeq decodes a log seq created by EncodeSeq
func DecodeSeq(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid log seq length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// --------------------------------------------------------------------------
// Row Values
// --------------------------------------------------------------------------

// RowSizeBytes returns the exact number of bytes needed to encode a row
func RowSizeBytes(row *store.Row) int {
	size := 1 + 8 + 8 // flags + promised + accepted
	if row.Key != nil {
		size += 4 + len(*row.Key)
	}
	if row.Version != nil {
		size += 8
	}
	if row.Value != nil {
		size += 4 + len(row.Value)
	}
	return size
}

// EncodeRow serializes a row (without its log seq) with the format:
// 1 byte for flags,
// 8 bytes for promised seq,
// 8 bytes for accepted seq,
// 4 bytes key length + N bytes key (if present),
// 8 bytes version (if present),
// 4 bytes value length + N bytes value (if present)
func EncodeRow(row *store.Row) []byte {
	result := make([]byte, RowSizeBytes(row))

	var flags byte
	pos := 1

	if row.Learned {
		flags |= flagLearned
	} else {
		binary.BigEndian.PutUint64(result[pos:pos+8], row.PromisedSeq)
		binary.BigEndian.PutUint64(result[pos+8:pos+16], row.AcceptedSeq)
	}
	pos += 16

	if row.Key != nil {
		flags |= flagHasKey
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(*row.Key)))
		pos += 4
		pos += copy(result[pos:], *row.Key)
	}

	if row.Version != nil {
		flags |= flagHasVersion
		binary.BigEndian.PutUint64(result[pos:pos+8], *row.Version)
		pos += 8
	}

	if row.Value != nil {
		flags |= flagHasValue
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(row.Value)))
		pos += 4
		copy(result[pos:], row.Value)
	}

	result[0] = flags
	return result
}

// DecodeRow deserializes a row encoded by EncodeRow. The returned row does not
// share memory with data, so it stays valid after the bolt transaction ends.
func DecodeRow(logSeq uint64, data []byte) (*store.Row, error) {
	if len(data) < 17 {
		return nil, fmt.Errorf("row %d: data too short for header", logSeq)
	}

	flags := data[0]
	row := &store.Row{
		LogSeq:  logSeq,
		Learned: flags&flagLearned != 0,
	}
	if !row.Learned {
		row.PromisedSeq = binary.BigEndian.Uint64(data[1:9])
		row.AcceptedSeq = binary.BigEndian.Uint64(data[9:17])
	}
	pos := 17

	if flags&flagHasKey != 0 {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("row %d: data too short for key length", logSeq)
		}
		keyLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+keyLen > len(data) {
			return nil, fmt.Errorf("row %d: data too short for key data", logSeq)
		}
		key := string(data[pos : pos+keyLen])
		row.Key = &key
		pos += keyLen
	}

	if flags&flagHasVersion != 0 {
		if pos+8 > len(data) {
			return nil, fmt.Errorf("row %d: data too short for version", logSeq)
		}
		version := binary.BigEndian.Uint64(data[pos : pos+8])
		row.Version = &version
		pos += 8
	}

	if flags&flagHasValue != 0 {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("row %d: data too short for value length", logSeq)
		}
		valueLen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+valueLen > len(data) {
			return nil, fmt.Errorf("row %d: data too short for value data", logSeq)
		}
		row.Value = make([]byte, valueLen)
		copy(row.Value, data[pos:pos+valueLen])
	}

	return row, nil
}

// --------------------------------------------------------------------------
// Key Index
// --------------------------------------------------------------------------

/*
 Index entries are ordered by (key, has version, version, log seq). The key is
 length prefixed so that no key is a byte prefix of the entries of another key.
 Null version entries (has version = 0) sort before all versioned entries.
*/

// KeyPrefix returns the index prefix shared by all entries of key
func KeyPrefix(key string) []byte {
	b := make([]byte, 4+len(key))
	binary.BigEndian.PutUint32(b[:4], uint32(len(key)))
	copy(b[4:], key)
	return b
}

// EncodeIndexKey creates the index entry for a row holding key
func EncodeIndexKey(key string, version *uint64, logSeq uint64) []byte {
	prefix := KeyPrefix(key)
	b := make([]byte, len(prefix)+1+8+8)
	copy(b, prefix)
	pos := len(prefix)
	if version != nil {
		b[pos] = 1
		binary.BigEndian.PutUint64(b[pos+1:pos+9], *version)
	}
	binary.BigEndian.PutUint64(b[pos+9:pos+17], logSeq)
	return b
}

// DecodeIndexKey splits an index entry that starts with prefix into its parts
func DecodeIndexKey(prefix, b []byte) (hasVersion bool, version uint64, logSeq uint64, err error) {
	if !bytes.HasPrefix(b, prefix) || len(b) != len(prefix)+17 {
		return false, 0, 0, fmt.Errorf("invalid index entry")
	}
	suffix := b[len(prefix):]
	return suffix[0] == 1, binary.BigEndian.Uint64(suffix[1:9]), binary.BigEndian.Uint64(suffix[9:17]), nil
}
