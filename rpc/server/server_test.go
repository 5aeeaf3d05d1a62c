package server_test

import (
	"errors"
	"github.com/ValentinKolb/dRPC/lib/numservice"
	"github.com/ValentinKolb/dRPC/rpc/client"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
	"github.com/ValentinKolb/dRPC/rpc/server"
	"github.com/ValentinKolb/dRPC/rpc/service"
	"github.com/ValentinKolb/dRPC/rpc/transport"
	"github.com/ValentinKolb/dRPC/rpc/transport/tcp"
	"github.com/ValentinKolb/dRPC/rpc/transport/unix"
	"github.com/ValentinKolb/dRPC/rpc/wire"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"
	"io"
	"net"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

func serverConfig(endpoint string) common.ServerConfig {
	config := common.DefaultServerConfig()
	config.Endpoint = endpoint
	config.IOWorkers = 2
	config.BusinessWorkers = 2
	config.ShutdownTimeout = time.Second
	return config
}

func clientConfig() common.ClientConfig {
	config := common.DefaultClientConfig()
	config.IOWorkers = 2
	config.ReconnectBackoff = 10 * time.Millisecond
	config.ConnectRetries = 3
	config.DialTimeout = time.Second
	return config
}

// startServer starts a server with the num service and the given extra services
func startServer(t *testing.T, config common.ServerConfig, connector transport.IServerConnector, s serializer.IRPCSerializer, extra ...*service.Service) *server.RpcServer {
	t.Helper()
	srv := server.NewRPCServer(config, connector, s)
	require.NoError(t, srv.RegisterService(numservice.NewService()))
	for _, svc := range extra {
		require.NoError(t, srv.RegisterService(svc))
	}
	require.NoError(t, srv.Start())
	t.Cleanup(srv.End)
	return srv
}

func startClient(t *testing.T, connector transport.IClientConnector, s serializer.IRPCSerializer) *client.RpcClient {
	t.Helper()
	c := client.NewRpcClient(clientConfig(), connector, s)
	c.Start()
	t.Cleanup(c.End)
	return c
}

// startTCP starts a TCP server and a client channel to it
func startTCP(t *testing.T, s serializer.IRPCSerializer, extra ...*service.Service) (*server.RpcServer, *client.RpcChannel) {
	t.Helper()
	srv := startServer(t, serverConfig("127.0.0.1:0"), tcp.NewTCPServerConnector(), s, extra...)
	c := startClient(t, tcp.NewTCPClientConnector(), s)
	ch := c.NewChannel(srv.Addr().String())
	t.Cleanup(ch.Close)
	return srv, ch
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Call did not complete")
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

// TestAddSync tests a blocking call end to end
func TestAddSync(t *testing.T) {
	_, ch := startTCP(t, serializer.NewBinarySerializer())

	resp := &numservice.NumResponse{}
	err := ch.Call(numservice.AddMethod, &numservice.NumRequest{Input1: 3, Input2: 4}, resp)
	require.NoError(t, err)
	require.Equal(t, int64(7), resp.Output)
}

// TestMinusAsync tests that the completion callback runs once, off the calling goroutine
func TestMinusAsync(t *testing.T) {
	_, ch := startTCP(t, serializer.NewBinarySerializer())

	caller := goroutineID()
	ctrl := common.NewController()
	resp := &numservice.NumResponse{}
	done := make(chan struct{})
	var callbackGoroutine string

	ch.CallMethod(numservice.MinusMethod, ctrl, &numservice.NumRequest{Input1: 3, Input2: 4}, resp, func() {
		callbackGoroutine = goroutineID()
		close(done)
	})

	waitDone(t, done)
	require.False(t, ctrl.Failed(), ctrl.ErrorText())
	require.Equal(t, int64(-1), resp.Output)
	require.NotEqual(t, caller, callbackGoroutine, "callback should run on the IO worker goroutine")
}

// TestUnknownServiceIsDropped tests that a request for an unknown service gets
// no response, the server keeps serving and closing the channel fails the call
func TestUnknownServiceIsDropped(t *testing.T) {
	srv := startServer(t, serverConfig("127.0.0.1:0"), tcp.NewTCPServerConnector(), serializer.NewBinarySerializer())
	c := startClient(t, tcp.NewTCPClientConnector(), serializer.NewBinarySerializer())
	ch := c.NewChannel(srv.Addr().String())

	unknown := &service.MethodDescriptor{Service: "no.such.Service", Name: "nothing", Index: 0}
	ctrl := common.NewController()
	done := make(chan struct{})
	ch.CallMethod(unknown, ctrl, &numservice.NumRequest{}, &numservice.NumResponse{}, func() { close(done) })

	select {
	case <-done:
		t.Fatalf("Call for an unknown service completed: %v", ctrl.Err())
	case <-time.After(200 * time.Millisecond):
	}

	// the server is still alive
	other := c.NewChannel(srv.Addr().String())
	defer other.Close()
	resp := &numservice.NumResponse{}
	require.NoError(t, other.Call(numservice.AddMethod, &numservice.NumRequest{Input1: 1, Input2: 1}, resp))
	require.Equal(t, int64(2), resp.Output)

	// tearing the channel down fails the pending call
	ch.Close()
	waitDone(t, done)
	require.ErrorIs(t, ctrl.Err(), common.ErrConnectionClosed)
}

// TestUnknownMethodIndexIsDropped tests an out of range method index
func TestUnknownMethodIndexIsDropped(t *testing.T) {
	srv := startServer(t, serverConfig("127.0.0.1:0"), tcp.NewTCPServerConnector(), serializer.NewBinarySerializer())
	config := clientConfig()
	config.CallTimeout = 100 * time.Millisecond
	c := client.NewRpcClient(config, tcp.NewTCPClientConnector(), serializer.NewBinarySerializer())
	c.Start()
	defer c.End()
	ch := c.NewChannel(srv.Addr().String())
	defer ch.Close()

	md := &service.MethodDescriptor{Service: numservice.ServiceName, Name: "divide", Index: 7}
	err := ch.Call(md, &numservice.NumRequest{Input1: 1, Input2: 1}, &numservice.NumResponse{})
	require.ErrorIs(t, err, common.ErrCallTimeout)
}

// TestPingPong tests that the server answers a raw PING with a PONG
func TestPingPong(t *testing.T) {
	srv := startServer(t, serverConfig("127.0.0.1:0"), tcp.NewTCPServerConnector(), serializer.NewBinarySerializer())

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	order := wire.ByteOrder(false)
	_, err = conn.Write(wire.HeartbeatFrame(order, wire.KindPing))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var hdr [wire.HeaderSize]byte
	_, err = io.ReadFull(conn, hdr[:])
	require.NoError(t, err)

	h, err := wire.UnmarshalHeader(order, hdr[:])
	require.NoError(t, err)
	require.Equal(t, wire.KindPong, h.Kind)
	require.Equal(t, uint32(0), h.Length)
}

// TestHeartbeatKeepsClientConnected tests client heartbeats against the real server
func TestHeartbeatKeepsClientConnected(t *testing.T) {
	srv := startServer(t, serverConfig("127.0.0.1:0"), tcp.NewTCPServerConnector(), serializer.NewBinarySerializer())

	config := clientConfig()
	config.HeartbeatInterval = 50 * time.Millisecond
	c := client.NewRpcClient(config, tcp.NewTCPClientConnector(), serializer.NewBinarySerializer())
	c.Start()
	defer c.End()
	ch := c.NewChannel(srv.Addr().String())
	defer ch.Close()

	for i := int64(0); i < 5; i++ {
		resp := &numservice.NumResponse{}
		require.NoError(t, ch.Call(numservice.AddMethod, &numservice.NumRequest{Input1: i, Input2: i}, resp))
		require.Equal(t, 2*i, resp.Output)
		time.Sleep(150 * time.Millisecond)
	}
}

// TestConcurrentCalls tests many goroutines sharing one channel
func TestConcurrentCalls(t *testing.T) {
	_, ch := startTCP(t, serializer.NewBinarySerializer())

	const goroutines = 32
	const callsPer = 100

	var wg sync.WaitGroup
	errs := make(chan error, goroutines)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int64) {
			defer wg.Done()
			for i := int64(0); i < callsPer; i++ {
				resp := &numservice.NumResponse{}
				if err := ch.Call(numservice.AddMethod, &numservice.NumRequest{Input1: g, Input2: i}, resp); err != nil {
					errs <- err
					return
				}
				if resp.Output != g+i {
					errs <- errors.New("response belongs to another call")
					return
				}
			}
		}(int64(g))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
}

// TestSerializers tests the num service with every serializer that supports it
func TestSerializers(t *testing.T) {
	serializers := map[string]func() serializer.IRPCSerializer{
		"JSON":   serializer.NewJSONSerializer,
		"GOB":    serializer.NewGOBSerializer,
		"Binary": serializer.NewBinarySerializer,
	}

	for name, factory := range serializers {
		t.Run(name, func(t *testing.T) {
			_, ch := startTCP(t, factory())

			resp := &numservice.NumResponse{}
			require.NoError(t, ch.Call(numservice.MinusMethod, &numservice.NumRequest{Input1: 10, Input2: 25}, resp))
			require.Equal(t, int64(-15), resp.Output)
		})
	}
}

// TestProtoService tests a service whose messages are protobuf types
func TestProtoService(t *testing.T) {
	square := &service.Service{
		Name: "test.Square",
		Methods: []service.Method{
			service.NewMethod[wrapperspb.Int64Value, wrapperspb.Int64Value]("square",
				func(_ *common.Controller, req *wrapperspb.Int64Value, resp *wrapperspb.Int64Value) {
					resp.Value = req.GetValue() * req.GetValue()
				}),
		},
	}
	_, ch := startTCP(t, serializer.NewProtoSerializer(), square)

	resp := &wrapperspb.Int64Value{}
	require.NoError(t, ch.Call(square.MustMethod("square"), wrapperspb.Int64(12), resp))
	require.Equal(t, int64(144), resp.GetValue())
}

// TestHandlerFailure tests that a failure set by a handler reaches the caller
// only if the server reports errors
func TestHandlerFailure(t *testing.T) {
	divide := &service.Service{
		Name: "test.Divide",
		Methods: []service.Method{
			service.NewMethod[numservice.NumRequest, numservice.NumResponse]("divide",
				func(ctrl *common.Controller, req *numservice.NumRequest, resp *numservice.NumResponse) {
					if req.Input2 == 0 {
						ctrl.SetFailed("division by zero")
						return
					}
					resp.Output = req.Input1 / req.Input2
				}),
		},
	}
	md := divide.MustMethod("divide")

	for name, report := range map[string]bool{"Reported": true, "Ignored": false} {
		t.Run(name, func(t *testing.T) {
			config := serverConfig("127.0.0.1:0")
			config.ReportErrors = report
			srv := startServer(t, config, tcp.NewTCPServerConnector(), serializer.NewBinarySerializer(), divide)
			c := startClient(t, tcp.NewTCPClientConnector(), serializer.NewBinarySerializer())
			ch := c.NewChannel(srv.Addr().String())
			t.Cleanup(ch.Close)

			resp := &numservice.NumResponse{}
			require.NoError(t, ch.Call(md, &numservice.NumRequest{Input1: 9, Input2: 3}, resp))
			require.Equal(t, int64(3), resp.Output)

			err := ch.Call(md, &numservice.NumRequest{Input1: 9, Input2: 0}, resp)
			if report {
				require.ErrorIs(t, err, common.ErrRemote)
				require.Contains(t, err.Error(), "division by zero")
			} else {
				// the untouched response is sent as is
				require.NoError(t, err)
				require.Equal(t, int64(0), resp.Output)
			}
		})
	}
}

// TestHandlerPanic tests that a panicking handler does not take the server down
func TestHandlerPanic(t *testing.T) {
	boom := &service.Service{
		Name: "test.Boom",
		Methods: []service.Method{
			service.NewMethod[numservice.NumRequest, numservice.NumResponse]("boom",
				func(_ *common.Controller, _ *numservice.NumRequest, _ *numservice.NumResponse) {
					panic("boom")
				}),
		},
	}
	srv := startServer(t, serverConfig("127.0.0.1:0"), tcp.NewTCPServerConnector(), serializer.NewBinarySerializer(), boom)

	config := clientConfig()
	config.CallTimeout = 100 * time.Millisecond
	c := client.NewRpcClient(config, tcp.NewTCPClientConnector(), serializer.NewBinarySerializer())
	c.Start()
	defer c.End()
	ch := c.NewChannel(srv.Addr().String())
	defer ch.Close()

	err := ch.Call(boom.MustMethod("boom"), &numservice.NumRequest{}, &numservice.NumResponse{})
	require.ErrorIs(t, err, common.ErrCallTimeout)

	resp := &numservice.NumResponse{}
	require.NoError(t, ch.Call(numservice.AddMethod, &numservice.NumRequest{Input1: 2, Input2: 2}, resp))
	require.Equal(t, int64(4), resp.Output)
}

// TestUnixTransport tests the num service over a unix domain socket
func TestUnixTransport(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sockets not available")
	}
	path := filepath.Join(t.TempDir(), "drpc.sock")

	startServer(t, serverConfig(path), unix.NewUnixServerConnector(), serializer.NewBinarySerializer())
	c := startClient(t, unix.NewUnixClientConnector(), serializer.NewBinarySerializer())
	ch := c.NewChannel(path)
	defer ch.Close()

	resp := &numservice.NumResponse{}
	require.NoError(t, ch.Call(numservice.AddMethod, &numservice.NumRequest{Input1: 3, Input2: 4}, resp))
	require.Equal(t, int64(7), resp.Output)
}

// TestServerLifecycle tests registration rules and idempotent shutdown
func TestServerLifecycle(t *testing.T) {
	srv := server.NewRPCServer(serverConfig("127.0.0.1:0"), tcp.NewTCPServerConnector(), serializer.NewBinarySerializer())
	require.Nil(t, srv.Addr())

	require.NoError(t, srv.RegisterService(numservice.NewService()))
	require.ErrorIs(t, srv.RegisterService(numservice.NewService()), common.ErrDuplicateService)

	require.NoError(t, srv.Start())
	require.NoError(t, srv.Start())
	require.NotNil(t, srv.Addr())
	require.ErrorIs(t, srv.RegisterService(&service.Service{Name: "late"}), common.ErrAlreadyStarted)

	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	srv.End()
	srv.End()

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after End")
	}
	select {
	case <-srv.Done():
	default:
		t.Fatal("Done not closed after End")
	}
	require.Error(t, srv.Start())
}

// TestEndClosesClientConnections tests that clients notice a stopped server
func TestEndClosesClientConnections(t *testing.T) {
	srv := startServer(t, serverConfig("127.0.0.1:0"), tcp.NewTCPServerConnector(), serializer.NewBinarySerializer())
	c := startClient(t, tcp.NewTCPClientConnector(), serializer.NewBinarySerializer())
	ch := c.NewChannel(srv.Addr().String())
	defer ch.Close()

	resp := &numservice.NumResponse{}
	require.NoError(t, ch.Call(numservice.AddMethod, &numservice.NumRequest{Input1: 1, Input2: 2}, resp))

	srv.End()

	// the connection is gone and the server does not come back
	err := ch.Call(numservice.AddMethod, &numservice.NumRequest{Input1: 1, Input2: 2}, resp)
	require.Error(t, err)
	require.True(t,
		errors.Is(err, common.ErrConnectionLost) || errors.Is(err, common.ErrConnectFailed),
		"unexpected error %v", err)
}

// goroutineID returns the id of the calling goroutine as printed in stack traces
func goroutineID() string {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	// "goroutine 18 [running]: ..."
	fields := strings.Fields(string(buf))
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}
