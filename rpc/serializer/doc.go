// Package serializer provides message serialization for the kvlog peer and
// client protocol. It defines a common interface and two implementations for
// serializing and deserializing the bodies exchanged over HTTP.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format optimized for speed and space
//     efficiency. A flags byte marks the present fields, so only those are
//     encoded. Nullable fields (key, version, value) are told apart from their
//     empty values by their flag, which keeps a null value and an empty value
//     different on the wire.
//
//   - jsonSerializerImpl: Implementation using JSON encoding, useful for debugging
//     with curl or interoperability with other systems, but with lower performance.
//
// All peers of a cluster must use the same serializer. Binary is the default.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	  serializer, err := serializer.New("binary")
//	  data, err := serializer.Serialize(message)
//	  // ... send data ...
//	  var receivedMsg common.Message
//	  err = serializer.Deserialize(receivedData, &receivedMsg)
package serializer
