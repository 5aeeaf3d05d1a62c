// Package wire implements the framing used between RPC clients and servers.
//
// Every message on a connection is a frame:
//
//	+------+----------------+------------------+
//	| kind | body length    | body             |
//	| 1 B  | 4 B (uint32)   | length bytes     |
//	+------+----------------+------------------+
//
// Kinds are REQUEST (0), RESPONSE (1), PING (2) and PONG (3). PING and PONG
// are heartbeats and carry no body. The length is written in host byte order
// because that is what deployed peers speak; ByteOrder(true) switches to
// network byte order, which both sides must agree on.
//
// REQUEST and RESPONSE bodies are envelopes in protobuf wire format:
//
//	request:  1 callId (varint), 2 serviceName (string), 3 methodIndex (varint), 4 payload (bytes)
//	response: 1 callId (varint), 2 payload (bytes), 3 error (string, optional)
//
// The payload itself is produced by a serializer.IRPCSerializer and is opaque
// to this package.
//
// Parser turns an arbitrarily chunked byte stream back into frames. It is a
// two state machine (awaiting header, awaiting body) that never looks at body
// bytes before the header is complete. A malformed envelope only affects the
// frame it is in, the next header is still found because the length prefix
// is trusted. A length above the configured limit is reported as
// ErrFrameTooLarge, callers drop the connection in that case.
package wire
