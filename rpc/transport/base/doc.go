// Package base provides the socket plumbing shared by the RPC client and
// server runtimes, independent of the network type (TCP, Unix sockets).
//
// Key Components:
//
//   - Pump: owns the two goroutines of a connection. The reader hands every
//     chunk it reads to an IPumpHandler, the writer drains an unbounded
//     outbound queue (util.BoundedChannel) and writes all queued frames with a
//     single net.Buffers write. The IO worker owning the connection only
//     queues frames and consumes events, it never blocks on the socket.
//
//   - IPumpHandler: implemented by the IO workers. OnData delivers chunks in
//     stream order, OnClosed reports the first error unless the owner closed
//     the pump itself.
//
//   - ChunkPool: a sync.Pool of fixed size read buffers. Chunks travel from
//     the reader to the IO worker, which returns them after feeding the bytes
//     to its frame parser.
//
// Performance Optimizations:
//
//   - Frame Batching: the writer collects every frame queued since its last
//     write and hands them to the kernel with one vectored write, which
//     reduces syscalls under load.
//
//   - Buffer Pooling: read buffers are reused across reads and connections.
//
// Thread Safety:
//
//	Send and Close may be called from any goroutine.
package base
