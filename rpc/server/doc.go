// Package server implements the serving side of the RPC runtime. It accepts
// stream connections, parses frames, runs the registered service handlers
// and writes their responses back on the connection the request came from.
//
// The package focuses on:
//   - Keeping socket handling and handler execution on separate goroutines
//   - Never blocking a reactor on a slow handler or a slow peer
//   - A service table that is immutable once the server runs
//
// Key Components:
//
//   - RpcServer: Owns the listener, the IO workers and the business workers.
//     RegisterService adds services before Start, Serve blocks until End.
//
//   - ioWorker: A reactor that owns a set of connections. It answers PING
//     with PONG itself, hands every request to the business worker with the
//     shortest queue and writes the responses that come back through its
//     write queue. A connection is only freed after every request it handed
//     out has been answered or dropped.
//
//   - businessWorker: Decodes the request envelope, resolves the method in the
//     service.Registry, deserializes the request, invokes the handler and
//     frames the response. Requests for unknown services and payloads that
//     fail to (de)serialize are dropped without a response, unless
//     ReportErrors is set.
//
// Usage Example:
//
//	config := common.DefaultServerConfig()
//	config.Endpoint = "0.0.0.0:8080"
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerConnector(), serializer.NewBinarySerializer())
//	if err := s.RegisterService(numservice.NewService()); err != nil {
//		log.Fatal(err)
//	}
//	if err := s.Start(); err != nil {
//		log.Fatal(err)
//	}
//	s.WaitForSignal()
//
// Overload Behaviour:
//
//	When all business queues are full new requests are dropped and counted
//	in the drpc_server_requests_dropped_total metric. The caller does not get
//	an answer for a dropped request, clients should set a call timeout when
//	the server can be overloaded.
package server
