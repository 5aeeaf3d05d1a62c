package transport

import (
	"github.com/ValentinKolb/dRPC/rpc/common"
	"net"
	"time"
)

// --------------------------------------------------------------------------
// Client side
// --------------------------------------------------------------------------

// IClientConnector opens stream connections for the RPC client. The client
// runtime does all framing itself, a connector only knows how to dial and
// tune sockets of one network type.
type IClientConnector interface {
	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// Connect establishes a single connection to endpoint. A timeout of 0
	// means no timeout.
	Connect(endpoint string, timeout time.Duration) (net.Conn, error)

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, socket common.SocketConf, tcp common.TCPConf) error
}

// --------------------------------------------------------------------------
// Server side
// --------------------------------------------------------------------------

// IServerConnector creates listeners for the RPC server
type IServerConnector interface {
	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// Listen creates a listener on endpoint
	Listen(endpoint string) (net.Listener, error)

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, socket common.SocketConf, tcp common.TCPConf) error
}
