package serializer

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/kvlog/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasSeq     byte = 1 << 0
	hasKey     byte = 1 << 1
	hasVersion byte = 1 << 2
	hasValue   byte = 1 << 3
	hasWriter  byte = 1 << 4
	hasCount   byte = 1 << 5
	hasErr     byte = 1 << 6
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	// Calculate total size needed
	totalSize := b.sizeBytes(msg)
	result := make([]byte, totalSize)

	// Write message type
	result[0] = byte(msg.MsgType)

	// Initialize flags byte
	var flags byte = 0

	// Set position for writing
	pos := 2 // Start after MsgType and flags

	// Handle Seq
	if msg.Seq > 0 {
		flags |= hasSeq
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Seq)
		pos += 8
	}

	// Handle Key, an empty key is still a key
	if msg.Key != nil {
		flags |= hasKey
		pos = putBytes(result, pos, []byte(*msg.Key))
	}

	// Handle Version
	if msg.Version != nil {
		flags |= hasVersion
		binary.BigEndian.PutUint64(result[pos:pos+8], *msg.Version)
		pos += 8
	}

	// Handle Value, an empty value is still a value
	if msg.Value != nil {
		flags |= hasValue
		pos = putBytes(result, pos, msg.Value)
	}

	// Handle Writer
	if msg.Writer != "" {
		flags |= hasWriter
		pos = putBytes(result, pos, []byte(msg.Writer))
	}

	// Handle Count
	if msg.Count > 0 {
		flags |= hasCount
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Count)
		pos += 8
	}

	// Handle Err
	if msg.Err != "" {
		flags |= hasErr
		pos = putBytes(result, pos, []byte(msg.Err))
	}

	// Set flags byte after knowing which fields are present
	result[1] = flags

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < 2 {
		return fmt.Errorf("data too short for message header")
	}

	// Read message type
	msg.MsgType = common.MessageType(data[0])

	// Read flags
	flags := data[1]

	// Initialize read position
	pos := 2
	var err error

	// Read Seq if present
	msg.Seq = 0
	if flags&hasSeq != 0 {
		if msg.Seq, pos, err = getUint64(data, pos, "seq"); err != nil {
			return err
		}
	}

	// Read Key if present
	msg.Key = nil
	if flags&hasKey != 0 {
		var key []byte
		if key, pos, err = getBytes(data, pos, "key"); err != nil {
			return err
		}
		s := string(key)
		msg.Key = &s
	}

	// Read Version if present
	msg.Version = nil
	if flags&hasVersion != 0 {
		var version uint64
		if version, pos, err = getUint64(data, pos, "version"); err != nil {
			return err
		}
		msg.Version = &version
	}

	// Read Value if present
	msg.Value = nil
	if flags&hasValue != 0 {
		var value []byte
		if value, pos, err = getBytes(data, pos, "value"); err != nil {
			return err
		}
		// copy so the message does not alias the input buffer, keep empty values non-nil
		msg.Value = make([]byte, len(value))
		copy(msg.Value, value)
	}

	// Read Writer if present
	msg.Writer = ""
	if flags&hasWriter != 0 {
		var writer []byte
		if writer, pos, err = getBytes(data, pos, "writer"); err != nil {
			return err
		}
		msg.Writer = string(writer)
	}

	// Read Count if present
	msg.Count = 0
	if flags&hasCount != 0 {
		if msg.Count, pos, err = getUint64(data, pos, "count"); err != nil {
			return err
		}
	}

	// Read Err if present
	msg.Err = ""
	if flags&hasErr != 0 {
		var errBytes []byte
		if errBytes, pos, err = getBytes(data, pos, "error"); err != nil {
			return err
		}
		msg.Err = string(errBytes)
	}

	if pos != len(data) {
		return fmt.Errorf("%d trailing bytes after message", len(data)-pos)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 1 byte for flags
	size := 2

	// Add sizes for fields that require length encoding
	if msg.Seq > 0 {
		size += 8 // uint64
	}
	if msg.Key != nil {
		size += 4 + len(*msg.Key) // 4 bytes for length + key string
	}
	if msg.Version != nil {
		size += 8 // uint64
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value) // 4 bytes for length + value bytes
	}
	if msg.Writer != "" {
		size += 4 + len(msg.Writer) // 4 bytes for length + writer string
	}
	if msg.Count > 0 {
		size += 8 // uint64
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err) // 4 bytes for length + error string
	}

	return size
}

// putBytes writes a length prefixed byte string at pos and returns the new position
func putBytes(dst []byte, pos int, src []byte) int {
	binary.BigEndian.PutUint32(dst[pos:pos+4], uint32(len(src)))
	pos += 4
	copy(dst[pos:pos+len(src)], src)
	return pos + len(src)
}

// getBytes reads a length prefixed byte string at pos, the result aliases data
func getBytes(data []byte, pos int, field string) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s length", field)
	}
	n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
	pos += 4
	if pos+n > len(data) {
		return nil, pos, fmt.Errorf("data too short for %s data", field)
	}
	return data[pos : pos+n], pos + n, nil
}

// getUint64 reads a big endian uint64 at pos
func getUint64(data []byte, pos int, field string) (uint64, int, error) {
	if pos+8 > len(data) {
		return 0, pos, fmt.Errorf("data too short for %s", field)
	}
	return binary.BigEndian.Uint64(data[pos : pos+8]), pos + 8, nil
}
