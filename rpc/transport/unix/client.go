package unix

import (
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/transport"
	"net"
	"time"
)

// clientConnector implements the IClientConnector interface for Unix sockets
type clientConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "unix"
}

func (c *clientConnector) Connect(endpoint string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", endpoint, timeout)
}

func (c *clientConnector) UpgradeConnection(conn net.Conn, socket common.SocketConf, _ common.TCPConf) error {
	return upgradeConnection(conn, socket)
}

// --------------------------------------------------------------------------
// Factory Method
// --------------------------------------------------------------------------

// NewUnixClientConnector creates a new Unix client connector
func NewUnixClientConnector() transport.IClientConnector {
	return &clientConnector{}
}
