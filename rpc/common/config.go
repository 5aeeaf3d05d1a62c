package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Socket options (shared by client and server)
// --------------------------------------------------------------------------

// SocketConf holds options that apply to every stream socket
type SocketConf struct {
	// WriteBufferSize is the kernel send buffer size in bytes (0 = OS default)
	WriteBufferSize int
	// ReadBufferSize is the kernel receive buffer size in bytes (0 = OS default)
	ReadBufferSize int
}

// TCPConf holds TCP specific options, ignored for other transports
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	// TCPLingerSec < 0 keeps the OS default
	TCPLingerSec int
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of an RpcServer
type ServerConfig struct {
	// Endpoint is the address to listen on (host:port for tcp, a path for unix)
	Endpoint string

	// IOWorkers is the number of reactor goroutines owning client connections
	IOWorkers int
	// AcceptQueueCapacity bounds the sockets waiting to be adopted by one IO worker
	AcceptQueueCapacity int
	// WriteQueueCapacity bounds the responses waiting to be written by one IO worker
	WriteQueueCapacity int

	// BusinessWorkers is the number of goroutines running service handlers
	BusinessWorkers int
	// BusinessQueueCapacity bounds the requests waiting for one business worker.
	// Requests arriving at a full queue are dropped without a response.
	BusinessQueueCapacity int

	// IdleTimeout closes connections that sent nothing for this long (0 = never)
	IdleTimeout time.Duration
	// ShutdownTimeout limits how long End waits for outstanding responses
	ShutdownTimeout time.Duration

	// ReportErrors answers failed requests with an error text in the response
	// envelope. When off, requests that fail to (de)serialize are dropped and
	// failures set by handlers are ignored. Every client must read the error
	// field before this is enabled.
	ReportErrors bool

	// ReadChunkSize is the size of a single socket read
	ReadChunkSize int
	// MaxBodySize is the largest accepted frame body (0 = wire.DefaultMaxBodySize)
	MaxBodySize uint32
	// NetworkByteOrder switches the frame length field to big endian.
	// Both sides must use the same setting.
	NetworkByteOrder bool

	SocketConf
	TCPConf

	// MetricsEndpoint serves Prometheus metrics when set (e.g. 0.0.0.0:9100)
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// DefaultServerConfig returns a configuration that works for most deployments
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Endpoint:              "0.0.0.0:8080",
		IOWorkers:             4,
		AcceptQueueCapacity:   1024,
		WriteQueueCapacity:    65536,
		BusinessWorkers:       8,
		BusinessQueueCapacity: 65536,
		IdleTimeout:           0,
		ShutdownTimeout:       5 * time.Second,
		ReadChunkSize:         64 * 1024,
		TCPConf: TCPConf{
			TCPNoDelay:   true,
			TCPLingerSec: -1,
		},
		LogLevel: "info",
	}
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Idle Timeout", durationOrOff(c.IdleTimeout))
	addField("Shutdown Timeout", c.ShutdownTimeout.String())
	addField("Report Errors", strconv.FormatBool(c.ReportErrors))
	addField("Network Byte Order", strconv.FormatBool(c.NetworkByteOrder))

	addSection("Workers")
	addField("IO Workers", strconv.Itoa(c.IOWorkers))
	addField("Accept Queue", strconv.Itoa(c.AcceptQueueCapacity))
	addField("Write Queue", strconv.Itoa(c.WriteQueueCapacity))
	addField("Business Workers", strconv.Itoa(c.BusinessWorkers))
	addField("Business Queue", strconv.Itoa(c.BusinessQueueCapacity))

	addSocketSection(addSection, addField, c.SocketConf, c.TCPConf, c.ReadChunkSize, c.MaxBodySize)

	addSection("Logging & Metrics")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	} else {
		addField("Metrics Endpoint", "off")
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all configuration parameters of an RpcClient
type ClientConfig struct {
	// IOWorkers is the number of reactor goroutines owning server connections
	IOWorkers int
	// QueueCapacity bounds the tasks waiting for one IO worker
	QueueCapacity int

	// HeartbeatInterval is the idle time after which a PING is sent. A second
	// silent interval marks the connection as lost (0 = no heartbeats).
	HeartbeatInterval time.Duration
	// DialTimeout limits a single connect attempt
	DialTimeout time.Duration
	// ConnectRetries is the number of failed connect attempts after which
	// waiting calls fail (0 = retry forever)
	ConnectRetries int
	// ReconnectBackoff is the delay before the first reconnect attempt, it
	// doubles with every failure up to MaxReconnectBackoff
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration

	// CallTimeout fails calls that got no response in time (0 = wait forever)
	CallTimeout time.Duration
	// MaxCallID is the largest call id of a connection and therefore limits
	// the number of calls in flight per connection
	MaxCallID uint32
	// MaxConnections limits the connections of one IO worker
	MaxConnections uint32

	// ReadChunkSize is the size of a single socket read
	ReadChunkSize int
	// MaxBodySize is the largest accepted frame body (0 = wire.DefaultMaxBodySize)
	MaxBodySize uint32
	// NetworkByteOrder switches the frame length field to big endian.
	// Both sides must use the same setting.
	NetworkByteOrder bool

	SocketConf
	TCPConf

	// Logging configuration
	LogLevel string
}

// DefaultClientConfig returns a configuration that works for most deployments
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		IOWorkers:           2,
		QueueCapacity:       65536,
		HeartbeatInterval:   10 * time.Second,
		DialTimeout:         5 * time.Second,
		ConnectRetries:      5,
		ReconnectBackoff:    50 * time.Millisecond,
		MaxReconnectBackoff: 5 * time.Second,
		CallTimeout:         0,
		MaxCallID:           1<<32 - 1,
		MaxConnections:      1<<16 - 1,
		ReadChunkSize:       64 * 1024,
		TCPConf: TCPConf{
			TCPNoDelay:   true,
			TCPLingerSec: -1,
		},
		LogLevel: "info",
	}
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("IO Workers", strconv.Itoa(c.IOWorkers))
	addField("Queue Capacity", strconv.Itoa(c.QueueCapacity))
	addField("Heartbeat Interval", durationOrOff(c.HeartbeatInterval))
	addField("Call Timeout", durationOrOff(c.CallTimeout))
	addField("Network Byte Order", strconv.FormatBool(c.NetworkByteOrder))

	addSection("Connect")
	addField("Dial Timeout", c.DialTimeout.String())
	if c.ConnectRetries > 0 {
		addField("Connect Retries", strconv.Itoa(c.ConnectRetries))
	} else {
		addField("Connect Retries", "unlimited")
	}
	addField("Backoff", fmt.Sprintf("%s .. %s", c.ReconnectBackoff, c.MaxReconnectBackoff))
	addField("Max Call ID", strconv.FormatUint(uint64(c.MaxCallID), 10))
	addField("Max Connections", strconv.FormatUint(uint64(c.MaxConnections), 10))

	addSocketSection(addSection, addField, c.SocketConf, c.TCPConf, c.ReadChunkSize, c.MaxBodySize)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func addSocketSection(addSection func(string), addField func(string, string), s SocketConf, t TCPConf, chunk int, maxBody uint32) {
	addSection("Socket")
	addField("Read Chunk Size", fmt.Sprintf("%d KB", chunk/1024))
	if maxBody > 0 {
		addField("Max Body Size", fmt.Sprintf("%d KB", maxBody/1024))
	} else {
		addField("Max Body Size", "default")
	}
	addField("Write Buffer", fmt.Sprintf("%d KB", s.WriteBufferSize/1024))
	addField("Read Buffer", fmt.Sprintf("%d KB", s.ReadBufferSize/1024))
	addField("TCP NoDelay", strconv.FormatBool(t.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", t.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", t.TCPLingerSec))
}

func durationOrOff(d time.Duration) string {
	if d <= 0 {
		return "off"
	}
	return d.String()
}
