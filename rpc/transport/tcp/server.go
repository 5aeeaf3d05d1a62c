package tcp

import (
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/transport"
	"net"
)

// serverConnector implements the IServerConnector interface for TCP sockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "tcp"
}

func (c *serverConnector) Listen(endpoint string) (net.Listener, error) {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %w", err)
	}
	return listener, nil
}

func (c *serverConnector) UpgradeConnection(conn net.Conn, socket common.SocketConf, tcp common.TCPConf) error {
	return upgradeConnection(conn, socket, tcp)
}

// --------------------------------------------------------------------------
// Factory Method
// --------------------------------------------------------------------------

// NewTCPServerConnector creates a new TCP server connector
func NewTCPServerConnector() transport.IServerConnector {
	return &serverConnector{}
}
