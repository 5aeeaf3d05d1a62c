// Package transport defines how the RPC runtime obtains stream connections.
//
// The client and server runtimes own framing, heartbeats and connection
// lifecycles. They depend on this package only for the network specific
// parts, so new socket types can be added without touching them.
//
// Key Components:
//
//   - IClientConnector: dials an endpoint and tunes the resulting socket.
//
//   - IServerConnector: creates a listener and tunes accepted sockets.
//
// Implementations live in the tcp and unix sub packages. The base sub package
// contains the socket pump shared by client and server: one reader and one
// writer goroutine per connection that move bytes between the socket and the
// owning IO worker.
package transport
