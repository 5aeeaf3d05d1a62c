package client

import (
	"errors"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
	"github.com/ValentinKolb/dRPC/rpc/service"
	"github.com/ValentinKolb/dRPC/rpc/transport/tcp"
	"github.com/ValentinKolb/dRPC/rpc/wire"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

var echoMethod = &service.MethodDescriptor{Service: "test.Echo", Name: "echo", Index: 2}

type echoMsg struct {
	Text string
}

var order = wire.ByteOrder(false)

// rawServer is a listener that speaks the wire format by hand
type rawServer struct {
	ln    net.Listener
	conns chan net.Conn
}

func newRawServer(t *testing.T) *rawServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	s := &rawServer{ln: ln, conns: make(chan net.Conn, 16)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.conns <- conn
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		for {
			select {
			case c := <-s.conns:
				c.Close()
			default:
				return
			}
		}
	})
	return s
}

func (s *rawServer) addr() string {
	return s.ln.Addr().String()
}

// accept returns the next accepted connection
func (s *rawServer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-s.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("No connection accepted")
		return nil
	}
}

// echoAll runs echoLoop on every accepted connection
func (s *rawServer) echoAll(pong bool) {
	go func() {
		for c := range s.conns {
			go echoLoop(c, pong)
		}
	}()
}

func readFrame(conn net.Conn) (wire.Kind, []byte, error) {
	var hdr [wire.HeaderSize]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return 0, nil, err
	}
	h, _ := wire.UnmarshalHeader(order, hdr[:])
	body := make([]byte, h.Length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return 0, nil, err
	}
	return h.Kind, body, nil
}

func mustReadFrame(t *testing.T, conn net.Conn) (wire.Kind, []byte) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("Failed to set deadline: %v", err)
	}
	kind, body, err := readFrame(conn)
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	return kind, body
}

func mustReadRequest(t *testing.T, conn net.Conn) wire.RequestEnvelope {
	t.Helper()
	kind, body := mustReadFrame(t, conn)
	if kind != wire.KindRequest {
		t.Fatalf("Expected %s frame, got %s", wire.KindRequest, kind)
	}
	var env wire.RequestEnvelope
	if err := env.Unmarshal(body); err != nil {
		t.Fatalf("Failed to decode request: %v", err)
	}
	return env
}

func writeResponse(conn net.Conn, env wire.ResponseEnvelope) error {
	_, err := conn.Write(wire.AppendFrame(nil, order, wire.KindResponse, env.Marshal(nil)))
	return err
}

// echoLoop answers every request with its own payload until the connection fails
func echoLoop(conn net.Conn, pong bool) {
	defer conn.Close()
	for {
		kind, body, err := readFrame(conn)
		if err != nil {
			return
		}
		switch kind {
		case wire.KindPing:
			if pong {
				if _, err := conn.Write(wire.HeartbeatFrame(order, wire.KindPong)); err != nil {
					return
				}
			}
		case wire.KindRequest:
			var req wire.RequestEnvelope
			if err := req.Unmarshal(body); err != nil {
				return
			}
			if err := writeResponse(conn, wire.ResponseEnvelope{CallID: req.CallID, Payload: req.Payload}); err != nil {
				return
			}
		}
	}
}

func testConfig() common.ClientConfig {
	config := common.DefaultClientConfig()
	config.IOWorkers = 1
	config.HeartbeatInterval = 0
	config.DialTimeout = time.Second
	config.ReconnectBackoff = 10 * time.Millisecond
	config.MaxReconnectBackoff = 50 * time.Millisecond
	return config
}

func startClient(t *testing.T, config common.ClientConfig) *RpcClient {
	c := NewRpcClient(config, tcp.NewTCPClientConnector(), serializer.NewJSONSerializer())
	c.Start()
	t.Cleanup(c.End)
	return c
}

// asyncCall starts a call and returns a channel that is closed on completion
func asyncCall(ch *RpcChannel, ctrl *common.Controller, req, resp any) <-chan struct{} {
	done := make(chan struct{})
	ch.CallMethod(echoMethod, ctrl, req, resp, func() { close(done) })
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Call did not complete")
	}
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

// TestCallRoundTrip tests a blocking call against an echo server
func TestCallRoundTrip(t *testing.T) {
	srv := newRawServer(t)
	srv.echoAll(false)

	c := startClient(t, testConfig())
	ch := c.NewChannel(srv.addr())
	defer ch.Close()

	for _, text := range []string{"hello", "", strings.Repeat("x", 100_000)} {
		resp := &echoMsg{}
		if err := ch.Call(echoMethod, &echoMsg{Text: text}, resp); err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if resp.Text != text {
			t.Errorf("Expected echo of %d bytes, got %d bytes", len(text), len(resp.Text))
		}
	}
}

// TestRequestEnvelope tests what the client puts on the wire
func TestRequestEnvelope(t *testing.T) {
	srv := newRawServer(t)
	c := startClient(t, testConfig())
	ch := c.NewChannel(srv.addr())
	defer ch.Close()

	ctrl := common.NewController()
	done := asyncCall(ch, ctrl, &echoMsg{Text: "abc"}, &echoMsg{})

	conn := srv.accept(t)
	env := mustReadRequest(t, conn)
	if env.ServiceName != echoMethod.Service || env.MethodIndex != echoMethod.Index {
		t.Errorf("Expected %s, got service %q index %d", echoMethod, env.ServiceName, env.MethodIndex)
	}
	if string(env.Payload) != `{"Text":"abc"}` {
		t.Errorf("Unexpected payload %q", env.Payload)
	}

	if err := writeResponse(conn, wire.ResponseEnvelope{CallID: env.CallID, Payload: env.Payload}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	waitDone(t, done)
	if ctrl.Failed() {
		t.Errorf("Call failed: %v", ctrl.Err())
	}
}

// TestCallbackRunsOnce tests that a duplicated response completes the call only once
func TestCallbackRunsOnce(t *testing.T) {
	srv := newRawServer(t)
	c := startClient(t, testConfig())
	ch := c.NewChannel(srv.addr())
	defer ch.Close()

	var calls atomic.Int32
	ctrl := common.NewController()
	ch.CallMethod(echoMethod, ctrl, &echoMsg{Text: "once"}, &echoMsg{}, func() { calls.Add(1) })

	conn := srv.accept(t)
	env := mustReadRequest(t, conn)

	// an unknown call id first, then the real response twice
	responses := []wire.ResponseEnvelope{
		{CallID: env.CallID + 1000, Payload: env.Payload},
		{CallID: env.CallID, Payload: env.Payload},
		{CallID: env.CallID, Payload: env.Payload},
	}
	for _, r := range responses {
		if err := writeResponse(conn, r); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	if n := calls.Load(); n != 1 {
		t.Fatalf("Expected callback to run once, ran %d times", n)
	}
	if ctrl.Failed() {
		t.Errorf("Call failed: %v", ctrl.Err())
	}
}

// TestRemoteError tests that a failure reported by the handler reaches the controller
func TestRemoteError(t *testing.T) {
	srv := newRawServer(t)
	c := startClient(t, testConfig())
	ch := c.NewChannel(srv.addr())
	defer ch.Close()

	ctrl := common.NewController()
	done := asyncCall(ch, ctrl, &echoMsg{}, &echoMsg{})

	conn := srv.accept(t)
	env := mustReadRequest(t, conn)
	if err := writeResponse(conn, wire.ResponseEnvelope{CallID: env.CallID, Error: "division by zero"}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	waitDone(t, done)
	if !errors.Is(ctrl.Err(), common.ErrRemote) {
		t.Fatalf("Expected ErrRemote, got %v", ctrl.Err())
	}
	if !strings.Contains(ctrl.ErrorText(), "division by zero") {
		t.Errorf("Expected reason in error text, got %q", ctrl.ErrorText())
	}
}

// TestHeartbeatTimeout tests that a silent server gets a PING, then the
// connection is given up and re-established
func TestHeartbeatTimeout(t *testing.T) {
	srv := newRawServer(t)
	config := testConfig()
	config.HeartbeatInterval = 50 * time.Millisecond
	c := startClient(t, config)
	ch := c.NewChannel(srv.addr())
	defer ch.Close()

	ctrl := common.NewController()
	done := asyncCall(ch, ctrl, &echoMsg{Text: "ping me"}, &echoMsg{})

	conn := srv.accept(t)
	mustReadRequest(t, conn)
	if kind, _ := mustReadFrame(t, conn); kind != wire.KindPing {
		t.Fatalf("Expected PING, got %s", kind)
	}

	waitDone(t, done)
	if !errors.Is(ctrl.Err(), common.ErrHeartbeatTimeout) {
		t.Fatalf("Expected ErrHeartbeatTimeout, got %v", ctrl.Err())
	}

	// the client reconnects on its own
	srv.accept(t)
}

// TestPongKeepsConnection tests that answered heartbeats keep the socket open
func TestPongKeepsConnection(t *testing.T) {
	srv := newRawServer(t)
	config := testConfig()
	config.HeartbeatInterval = 100 * time.Millisecond
	c := startClient(t, config)
	ch := c.NewChannel(srv.addr())
	defer ch.Close()

	ctrl := common.NewController()
	done := asyncCall(ch, ctrl, &echoMsg{Text: "first"}, &echoMsg{})
	conn := srv.accept(t)
	go echoLoop(conn, true)
	waitDone(t, done)
	if ctrl.Failed() {
		t.Fatalf("Call failed: %v", ctrl.Err())
	}

	// several heartbeat intervals pass
	time.Sleep(600 * time.Millisecond)

	select {
	case <-srv.conns:
		t.Fatal("Client reconnected although every PING was answered")
	default:
	}

	resp := &echoMsg{}
	if err := ch.Call(echoMethod, &echoMsg{Text: "second"}, resp); err != nil {
		t.Fatalf("Call after heartbeats failed: %v", err)
	}
	if resp.Text != "second" {
		t.Errorf("Expected %q, got %q", "second", resp.Text)
	}
}

// TestCallIDExhausted tests that a connection with all call ids in use rejects new calls
func TestCallIDExhausted(t *testing.T) {
	srv := newRawServer(t)
	config := testConfig()
	config.MaxCallID = 0 // exactly one call in flight
	c := startClient(t, config)
	ch := c.NewChannel(srv.addr())
	defer ch.Close()

	first := common.NewController()
	firstDone := asyncCall(ch, first, &echoMsg{Text: "1"}, &echoMsg{})

	conn := srv.accept(t)
	env := mustReadRequest(t, conn)

	if err := ch.Call(echoMethod, &echoMsg{Text: "2"}, &echoMsg{}); !errors.Is(err, common.ErrCallIDExhausted) {
		t.Fatalf("Expected ErrCallIDExhausted, got %v", err)
	}

	// answering the first call frees its id
	if err := writeResponse(conn, wire.ResponseEnvelope{CallID: env.CallID, Payload: env.Payload}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	waitDone(t, firstDone)
	if first.Failed() {
		t.Fatalf("First call failed: %v", first.Err())
	}

	go echoLoop(conn, false)
	if err := ch.Call(echoMethod, &echoMsg{Text: "3"}, &echoMsg{}); err != nil {
		t.Errorf("Call after the id was recycled failed: %v", err)
	}
}

// TestCloseFailsPendingCalls tests that closing a channel completes its calls
func TestCloseFailsPendingCalls(t *testing.T) {
	srv := newRawServer(t)
	c := startClient(t, testConfig())
	ch := c.NewChannel(srv.addr())

	ctrl := common.NewController()
	done := asyncCall(ch, ctrl, &echoMsg{}, &echoMsg{})
	conn := srv.accept(t)
	mustReadRequest(t, conn)

	ch.Close()
	waitDone(t, done)
	if !errors.Is(ctrl.Err(), common.ErrConnectionClosed) {
		t.Fatalf("Expected ErrConnectionClosed, got %v", ctrl.Err())
	}

	if err := ch.Call(echoMethod, &echoMsg{}, &echoMsg{}); !errors.Is(err, common.ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed on a closed channel, got %v", err)
	}
	ch.Close() // idempotent
}

// TestCloseFromCallbackWithFullQueue tests that a completion callback can
// close a channel while the task queue of its IO worker is full
func TestCloseFromCallbackWithFullQueue(t *testing.T) {
	srv := newRawServer(t)
	srv.echoAll(false)

	config := testConfig()
	config.QueueCapacity = 2
	c := startClient(t, config)
	ch1 := c.NewChannel(srv.addr())
	ch2 := c.NewChannel(srv.addr())
	defer ch2.Close()

	// both channels are connected, so the calls below only need one task each
	for _, ch := range []*RpcChannel{ch1, ch2} {
		if err := ch.Call(echoMethod, &echoMsg{Text: "warm"}, &echoMsg{}); err != nil {
			t.Fatalf("Warm up call failed: %v", err)
		}
	}

	ctrls := []*common.Controller{common.NewController(), common.NewController(), common.NewController()}
	results := make(chan struct{}, len(ctrls))
	closed := make(chan struct{})

	ch1.CallMethod(echoMethod, common.NewController(), &echoMsg{Text: "a"}, &echoMsg{}, func() {
		for _, ctrl := range ctrls {
			ch2.CallMethod(echoMethod, ctrl, &echoMsg{Text: "b"}, &echoMsg{}, func() { results <- struct{}{} })
		}
		ch1.Close()
		close(closed)
	})

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close called from a completion callback did not return")
	}

	for range ctrls {
		select {
		case <-results:
		case <-time.After(3 * time.Second):
			t.Fatal("Call did not complete")
		}
	}
	if ctrls[0].Failed() || ctrls[1].Failed() {
		t.Fatalf("Queued calls failed: %v, %v", ctrls[0].Err(), ctrls[1].Err())
	}
	if !errors.Is(ctrls[2].Err(), common.ErrQueueFull) {
		t.Fatalf("Expected the third call to hit the full queue, got %v", ctrls[2].Err())
	}

	// the worker keeps serving and the closed channel rejects calls
	if err := ch2.Call(echoMethod, &echoMsg{Text: "c"}, &echoMsg{}); err != nil {
		t.Errorf("Call after the close failed: %v", err)
	}
	if err := ch1.Call(echoMethod, &echoMsg{}, &echoMsg{}); !errors.Is(err, common.ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed on the closed channel, got %v", err)
	}
}

// TestEndFailsOutstandingCalls tests that End completes every call
func TestEndFailsOutstandingCalls(t *testing.T) {
	srv := newRawServer(t)
	c := NewRpcClient(testConfig(), tcp.NewTCPClientConnector(), serializer.NewJSONSerializer())
	c.Start()
	ch := c.NewChannel(srv.addr())

	ctrl := common.NewController()
	done := asyncCall(ch, ctrl, &echoMsg{}, &echoMsg{})
	conn := srv.accept(t)
	mustReadRequest(t, conn)

	c.End()
	waitDone(t, done)
	if !errors.Is(ctrl.Err(), common.ErrClientClosed) {
		t.Fatalf("Expected ErrClientClosed, got %v", ctrl.Err())
	}

	c.End() // idempotent
	if err := ch.Call(echoMethod, &echoMsg{}, &echoMsg{}); !errors.Is(err, common.ErrClientClosed) {
		t.Errorf("Expected ErrClientClosed after End, got %v", err)
	}
	ch.Close()
}

// TestCallBeforeStart tests that a client must be started
func TestCallBeforeStart(t *testing.T) {
	c := NewRpcClient(testConfig(), tcp.NewTCPClientConnector(), serializer.NewJSONSerializer())
	defer c.End()

	ch := c.NewChannel("127.0.0.1:1")
	if err := ch.Call(echoMethod, &echoMsg{}, &echoMsg{}); !errors.Is(err, common.ErrClientNotStarted) {
		t.Errorf("Expected ErrClientNotStarted, got %v", err)
	}
}

// TestConnectRetriesExhausted tests that parked calls fail once the server stays unreachable
func TestConnectRetriesExhausted(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	config := testConfig()
	config.ConnectRetries = 2
	config.ReconnectBackoff = 5 * time.Millisecond
	c := startClient(t, config)
	ch := c.NewChannel(addr)
	defer ch.Close()

	if err := ch.Call(echoMethod, &echoMsg{}, &echoMsg{}); !errors.Is(err, common.ErrConnectFailed) {
		t.Errorf("Expected ErrConnectFailed, got %v", err)
	}
}

// TestCallTimeout tests that an unanswered call fails after CallTimeout
func TestCallTimeout(t *testing.T) {
	srv := newRawServer(t)
	config := testConfig()
	config.CallTimeout = 50 * time.Millisecond
	c := startClient(t, config)
	ch := c.NewChannel(srv.addr())
	defer ch.Close()

	start := time.Now()
	if err := ch.Call(echoMethod, &echoMsg{}, &echoMsg{}); !errors.Is(err, common.ErrCallTimeout) {
		t.Fatalf("Expected ErrCallTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < config.CallTimeout {
		t.Errorf("Call failed after %s, before its timeout", elapsed)
	}
}

// TestSerializeError tests that a request that can not be encoded is never sent
func TestSerializeError(t *testing.T) {
	c := startClient(t, testConfig())
	ch := c.NewChannel("127.0.0.1:1")
	defer ch.Close()

	// channels can not be encoded as JSON
	if err := ch.Call(echoMethod, make(chan int), &echoMsg{}); !errors.Is(err, common.ErrSerialize) {
		t.Errorf("Expected ErrSerialize, got %v", err)
	}
	if err := ch.Call(nil, &echoMsg{}, &echoMsg{}); !errors.Is(err, common.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for a missing descriptor, got %v", err)
	}
}

// TestScheduleSpreadsChannels tests that channels go to the least busy worker
func TestScheduleSpreadsChannels(t *testing.T) {
	srv := newRawServer(t)
	srv.echoAll(false)

	config := testConfig()
	config.IOWorkers = 3
	c := startClient(t, config)

	seen := make(map[*ioWorker]bool)
	for i := 0; i < 3; i++ {
		ch := c.NewChannel(srv.addr())
		defer ch.Close()
		if err := ch.Call(echoMethod, &echoMsg{Text: "x"}, &echoMsg{}); err != nil {
			t.Fatalf("Call %d failed: %v", i, err)
		}
		seen[ch.worker] = true
	}

	if len(seen) != 3 {
		t.Errorf("Expected channels on 3 different workers, got %d", len(seen))
	}
}

// TestConcurrentCalls tests many goroutines sharing one channel
func TestConcurrentCalls(t *testing.T) {
	srv := newRawServer(t)
	srv.echoAll(false)

	c := startClient(t, testConfig())
	ch := c.NewChannel(srv.addr())
	defer ch.Close()

	const goroutines = 16
	const callsPer = 50
	errs := make(chan error, goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			for i := 0; i < callsPer; i++ {
				text := strings.Repeat(string(rune('a'+g)), i+1)
				resp := &echoMsg{}
				if err := ch.Call(echoMethod, &echoMsg{Text: text}, resp); err != nil {
					errs <- err
					return
				}
				if resp.Text != text {
					errs <- errors.New("response belongs to another call: " + resp.Text)
					return
				}
			}
			errs <- nil
		}(g)
	}

	for g := 0; g < goroutines; g++ {
		if err := <-errs; err != nil {
			t.Errorf("Goroutine failed: %v", err)
		}
	}
}

// TestCallCompletesOnce tests the completion guard of a call
func TestCallCompletesOnce(t *testing.T) {
	ctrl := common.NewController()
	cl := &call{ctrl: ctrl, wake: make(chan struct{})}

	first := errors.New("first")
	cl.complete(first)
	cl.complete(errors.New("second")) // must not close wake again

	select {
	case <-cl.wake:
	default:
		t.Fatal("wake channel not closed")
	}
	if !errors.Is(ctrl.Err(), first) {
		t.Errorf("Expected first error to win, got %v", ctrl.Err())
	}
}
