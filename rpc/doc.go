// Package rpc provides a reactor based framework for remote procedure calls.
// Clients multiplex many concurrent calls over a few persistent stream
// connections, servers run the registered handlers on a pool of business
// workers that is separate from the goroutines doing socket IO.
//
// The package is organized into several subpackages:
//
//   - common: Types shared by client and server, including the per-call
//     Controller, sentinel errors, configuration structures, logging and
//     metrics.
//
//   - wire: The frame header (kind + length), the incremental frame parser
//     and the protobuf encoded request and response envelopes.
//
//   - service: Method descriptors, service definitions and the immutable
//     registry a server resolves (service name, method index) pairs in.
//
//   - serializer: Payload serialization with multiple format options
//     (Binary, JSON, GOB, Protobuf).
//
//   - transport: Connectors that dial and listen for TCP and Unix sockets,
//     plus the socket pump shared by both runtimes.
//
//   - client: RpcClient and RpcChannel. Calls are queued to IO workers that
//     own the connections, assign call ids and match responses.
//
//   - server: RpcServer with its IO workers and business workers.
package rpc
