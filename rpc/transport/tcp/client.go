package tcp

import (
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/transport"
	"net"
	"time"
)

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(endpoint string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", endpoint, timeout)
}

func (c *clientConnector) UpgradeConnection(conn net.Conn, socket common.SocketConf, tcp common.TCPConf) error {
	return upgradeConnection(conn, socket, tcp)
}

// --------------------------------------------------------------------------
// Factory Method
// --------------------------------------------------------------------------

// NewTCPClientConnector creates a new TCP client connector
func NewTCPClientConnector() transport.IClientConnector {
	return &clientConnector{}
}
