package util

import (
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
	"github.com/ValentinKolb/dRPC/rpc/transport"
	"github.com/ValentinKolb/dRPC/rpc/transport/tcp"
	"github.com/ValentinKolb/dRPC/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
	"time"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Flags
// --------------------------------------------------------------------------

// SetupRPCClientFlags adds common RPC client flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	defaults := common.DefaultClientConfig()

	key := "endpoint"
	cmd.PersistentFlags().String(key, "localhost:8080", WrapString("The address of the dRPC server (host:port for tcp, a socket path for unix)"))

	key = "io-workers"
	cmd.PersistentFlags().Int(key, defaults.IOWorkers, WrapString("Number of IO workers owning the server connections"))

	key = "queue-capacity"
	cmd.PersistentFlags().Int(key, defaults.QueueCapacity, WrapString("How many tasks can wait for a single IO worker before calls fail with a full queue"))

	key = "heartbeat"
	cmd.PersistentFlags().Duration(key, defaults.HeartbeatInterval, WrapString("Idle time after which a PING is sent. A second silent interval marks the connection as lost (0 disables heartbeats)"))

	key = "dial-timeout"
	cmd.PersistentFlags().Duration(key, defaults.DialTimeout, WrapString("Timeout of a single connect attempt"))

	key = "connect-retries"
	cmd.PersistentFlags().Int(key, defaults.ConnectRetries, WrapString("Failed connect attempts after which waiting calls fail (0 retries forever)"))

	key = "call-timeout"
	cmd.PersistentFlags().Duration(key, 10*time.Second, WrapString("Fail calls that got no response in time (0 waits forever)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "warn", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	SetupSocketFlags(cmd)
}

// SetupSocketFlags adds the socket and framing flags shared by client and server
func SetupSocketFlags(cmd *cobra.Command) {
	key := "network-byte-order"
	cmd.PersistentFlags().Bool(key, false, WrapString("Use big endian frame headers. Client and server must use the same setting"))

	key = "max-body-size"
	cmd.PersistentFlags().Uint32(key, 0, WrapString("The largest accepted frame body in bytes (0 uses the default of 64 MB)"))

	key = "read-chunk-size"
	cmd.PersistentFlags().Int(key, 64, WrapString("The size of a single socket read (in KB)"))

	key = "socket-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the kernel send buffer (in KB, 0 keeps the OS default)"))

	key = "socket-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the kernel receive buffer (in KB, 0 keeps the OS default)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, only for tcp)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, -1, WrapString("The linger time (in seconds, only for tcp, -1 keeps the OS default)"))
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// InitConfig loads .env files and makes viper read DRPC_ environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("drpc")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() common.ClientConfig {
	conf := common.DefaultClientConfig()
	conf.IOWorkers = viper.GetInt("io-workers")
	conf.QueueCapacity = viper.GetInt("queue-capacity")
	conf.HeartbeatInterval = viper.GetDuration("heartbeat")
	conf.DialTimeout = viper.GetDuration("dial-timeout")
	conf.ConnectRetries = viper.GetInt("connect-retries")
	conf.CallTimeout = viper.GetDuration("call-timeout")
	conf.LogLevel = viper.GetString("log-level")

	conf.ReadChunkSize = viper.GetInt("read-chunk-size") * 1024
	conf.MaxBodySize = viper.GetUint32("max-body-size")
	conf.NetworkByteOrder = viper.GetBool("network-byte-order")
	conf.SocketConf = GetSocketConf()
	conf.TCPConf = GetTCPConf()
	return conf
}

// GetSocketConf reads the kernel buffer sizes from viper
func GetSocketConf() common.SocketConf {
	return common.SocketConf{
		WriteBufferSize: viper.GetInt("socket-write-buffer") * 1024,
		ReadBufferSize:  viper.GetInt("socket-read-buffer") * 1024,
	}
}

// GetTCPConf reads the TCP options from viper
func GetTCPConf() common.TCPConf {
	return common.TCPConf{
		TCPNoDelay:      viper.GetBool("tcp-nodelay"),
		TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
		TCPLingerSec:    viper.GetInt("tcp-linger"),
	}
}

// GetEndpoint returns the configured server address
func GetEndpoint() string {
	return viper.GetString("endpoint")
}

// GetSerializer creates a serializer based on configuration
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.ByName(viper.GetString("serializer"))
}

// GetClientConnector creates a client connector based on configuration
func GetClientConnector() (transport.IClientConnector, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPClientConnector(), nil
	case "unix":
		return unix.NewUnixClientConnector(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected one of tcp, unix)", viper.GetString("transport"))
	}
}

// GetServerConnector creates a server connector based on configuration
func GetServerConnector() (transport.IServerConnector, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPServerConnector(), nil
	case "unix":
		return unix.NewUnixServerConnector(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s (expected one of tcp, unix)", viper.GetString("transport"))
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
