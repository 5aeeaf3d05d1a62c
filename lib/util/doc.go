// Package util contains the small concurrency building blocks the RPC runtime
// is made of.
//
// Key Components:
//
//   - BoundedChannel: a generic FIFO queue with optional capacity and a
//     blocking or non-blocking mode. It is the only way work moves between
//     goroutines in the client and server runtimes (task queues, accept
//     queues, write queues, business queues and the outbound queue of every
//     socket). Stop releases every waiter and turns the queue non-blocking,
//     which is how shutdown unblocks workers.
//
//   - IdPool: hands out unique ids from 0..max and prefers recycled ids,
//     lowest first. Used for connection ids and per-connection call ids.
//     The recycled set is a min-heap with a membership map so that double
//     recycling is detected in O(1).
//
//   - Stats / DistributionStats: summary statistics used by the perf command
//     to report how evenly calls were spread over client goroutines.
//
// Thread Safety:
//
//	BoundedChannel is safe for concurrent use. IdPool is not and must be
//	owned by a single goroutine or guarded by a lock.
package util
