// Package serializer provides the payload codecs of the RPC system. The
// transport carries request and response payloads as opaque bytes, a
// serializer turns service specific request and response values into those
// bytes and back.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Delegates to the value's own MarshalBinary and
//     UnmarshalBinary methods and passes raw []byte payloads through. The
//     fastest option when message types encode themselves.
//
//   - protoSerializerImpl: Encodes proto.Message values. Use it when the peer
//     is built from .proto definitions.
//
//   - gobSerializerImpl: Go's gob encoding. Works for any exported struct
//     but every payload repeats the type description.
//
//   - jsonSerializerImpl: JSON encoding, useful for debugging or
//     interoperability with other systems, but with lower performance.
//
// Client and server must be configured with the same serializer, nothing on
// the wire tells which one produced a payload.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s, err := serializer.ByName("json")
//	data, err := s.Serialize(&numservice.NumRequest{Input1: 3, Input2: 4})
//	// ... send data ...
//	var req numservice.NumRequest
//	err = s.Deserialize(data, &req)
package serializer
