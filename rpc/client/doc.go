// Package client implements the calling side of the RPC runtime. Calls to
// remote services are framed, multiplexed over one socket per channel and
// matched with their responses by call id.
//
// The package focuses on:
//   - Asynchronous and blocking calls over the same connection
//   - Connection liveness through PING/PONG heartbeats
//   - Transparent reconnects with exponential backoff
//
// Key Components:
//
//   - RpcClient: Owns a fixed number of IO workers. Start launches them, End
//     stops them and fails every outstanding call with common.ErrClientClosed.
//
//   - RpcChannel: A logical connection to one endpoint. On its first call the
//     channel is bound to the IO worker with the fewest connections. CallMethod
//     blocks when no completion callback is given, otherwise the callback runs
//     on the IO worker goroutine once the call completed.
//
//   - ioWorker: A single goroutine reactor that owns its connections, their
//     call tables and call id pools. Callers hand it tasks through a bounded
//     queue and a wake channel, sockets and timers post events to it. It never
//     blocks on the network, dials run in their own goroutines.
//
// Usage Example:
//
//	// Configure the client
//	config := common.DefaultClientConfig()
//	config.HeartbeatInterval = 5 * time.Second
//
//	c := client.NewRpcClient(config, tcp.NewTCPClientConnector(), serializer.NewBinarySerializer())
//	c.Start()
//	defer c.End()
//
//	ch := c.NewChannel("localhost:8080")
//	defer ch.Close()
//
//	// Blocking call
//	resp := &numservice.NumResponse{}
//	if err := ch.Call(numservice.AddMethod, &numservice.NumRequest{Input1: 3, Input2: 4}, resp); err != nil {
//		log.Fatal(err)
//	}
//
//	// Asynchronous call
//	ctrl := common.NewController()
//	ch.CallMethod(numservice.MinusMethod, ctrl, req, resp, func() {
//		if ctrl.Failed() {
//			log.Println(ctrl.ErrorText())
//		}
//	})
//
// Failure Handling:
//
//	Calls made before the socket is up are parked and sent once it is. A
//	socket error or a missed heartbeat fails the calls in flight and the
//	channel reconnects. After ConnectRetries failed attempts the parked calls
//	fail with common.ErrConnectFailed. A request the server drops is never
//	answered, set CallTimeout to bound the wait.
//
// Thread Safety:
//
//	RpcClient and RpcChannel can be used concurrently from multiple
//	goroutines without additional synchronization.
package client
