// Package unix implements Unix domain socket connectors for the RPC client and
// server. The endpoint is the socket path. Use it for processes running on the
// same machine.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners. An existing socket file
//     at the endpoint path is removed first.
//
// Performance Characteristics:
//
//   - Reduced overhead: Eliminates TCP/IP stack processing for better performance
//   - Lower latency: Direct kernel-mediated IPC avoids network subsystem overhead
package unix
