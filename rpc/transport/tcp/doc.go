// Package tcp implements TCP socket connectors for the RPC client and server.
//
// Key Components:
//
//   - clientConnector: dials TCP endpoints (host:port) with a timeout
//
//   - serverConnector: listens on a TCP endpoint
//
// Both apply the same socket tuning to established connections: TCP_NODELAY,
// kernel buffer sizes, keep-alive and linger, taken from common.SocketConf and
// common.TCPConf. Framing, heartbeats and reconnects are handled by the client
// and server runtimes, not here.
package tcp
