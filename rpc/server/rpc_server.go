package server

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
	"github.com/ValentinKolb/dRPC/rpc/service"
	"github.com/ValentinKolb/dRPC/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("rpc/server")

// RpcServer accepts connections, spreads them over IO workers and runs the
// registered service handlers on business workers.
type RpcServer struct {
	config     common.ServerConfig
	connector  transport.IServerConnector
	serializer serializer.IRPCSerializer

	builder  *service.Builder
	registry *service.Registry

	ioWorkers       []*ioWorker
	businessWorkers []*businessWorker
	listener        net.Listener

	mu      sync.Mutex
	started bool
	ended   bool
	done    chan struct{}

	acceptGroup   errgroup.Group
	ioGroup       errgroup.Group
	businessGroup errgroup.Group
}

// NewRPCServer creates a new RPC server
// It takes a config, connector and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		common.DefaultServerConfig(),
//		tcp.NewTCPServerConnector(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.RegisterService(numservice.NewService()); err != nil {
//		panic(err)
//	}
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	connector transport.IServerConnector,
	serializer serializer.IRPCSerializer,
) *RpcServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	if config.IOWorkers <= 0 {
		config.IOWorkers = 1
	}
	if config.BusinessWorkers <= 0 {
		config.BusinessWorkers = 1
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RpcServer{
		config:     config,
		connector:  connector,
		serializer: serializer,
		builder:    service.NewBuilder(),
		done:       make(chan struct{}),
	}
}

// RegisterService adds a service. Services can only be registered before
// the server is started.
func (s *RpcServer) RegisterService(svc *service.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.ended {
		return common.ErrAlreadyStarted
	}
	return s.builder.Register(svc)
}

// Start creates the listener and launches all workers. The registered
// services are frozen. Calling Start on a running server does nothing.
func (s *RpcServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return fmt.Errorf("%w: server was ended", common.ErrAlreadyStarted)
	}
	if s.started {
		return nil
	}

	ln, err := s.connector.Listen(s.config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Endpoint, err)
	}
	s.listener = ln
	s.registry = s.builder.Build()

	s.businessWorkers = make([]*businessWorker, s.config.BusinessWorkers)
	for i := range s.businessWorkers {
		b := newBusinessWorker(i, s.config, s.registry, s.serializer)
		s.businessWorkers[i] = b
		s.businessGroup.Go(b.run)
	}

	s.ioWorkers = make([]*ioWorker, s.config.IOWorkers)
	for i := range s.ioWorkers {
		w := newIOWorker(i, s.config, s.dispatch)
		s.ioWorkers[i] = w
		s.ioGroup.Go(w.run)
	}

	s.acceptGroup.Go(s.acceptLoop)
	s.started = true

	Logger.Infof("RPC Server listening on %s (%s transport, %s serializer, services: %v)",
		ln.Addr(), s.connector.GetName(), s.serializer.Name(), s.registry.Services())
	return nil
}

// Serve starts the server and blocks until End is called
func (s *RpcServer) Serve() error {
	if err := s.Start(); err != nil {
		return err
	}
	<-s.done
	return nil
}

// End stops the server. The listener is closed first, then the IO workers
// close their sockets and wait for outstanding responses (bounded by
// ShutdownTimeout), then the business workers stop. End is idempotent.
func (s *RpcServer) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	started := s.started
	s.mu.Unlock()

	if started {
		if err := s.listener.Close(); err != nil {
			Logger.Warningf("Failed to close listener: %v", err)
		}
		if err := s.acceptGroup.Wait(); err != nil {
			Logger.Errorf("Accept loop failed: %v", err)
		}

		for _, w := range s.ioWorkers {
			w.end()
		}
		if err := s.ioGroup.Wait(); err != nil {
			Logger.Errorf("IO worker failed: %v", err)
		}

		for _, b := range s.businessWorkers {
			b.end()
		}
		if err := s.businessGroup.Wait(); err != nil {
			Logger.Errorf("Business worker failed: %v", err)
		}
	}

	close(s.done)
	Logger.Infof("RPC Server stopped")
}

// Addr returns the address the server listens on, or nil before Start
func (s *RpcServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Done returns a channel that is closed once End completed
func (s *RpcServer) Done() <-chan struct{} {
	return s.done
}

// WaitForSignal blocks until SIGINT or SIGTERM is received or the server
// ended, then ends the server
func (s *RpcServer) WaitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		Logger.Infof("Received %s, shutting down", sig)
	case <-s.done:
	}
	s.End()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// acceptLoop is the only user of the listener. Accepted sockets are tuned
// and handed to the IO worker with the fewest connections.
func (s *RpcServer) acceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			Logger.Warningf("Accept failed: %v", err)
			time.Sleep(5 * time.Millisecond)
			continue
		}

		if err := s.connector.UpgradeConnection(conn, s.config.SocketConf, s.config.TCPConf); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			_ = conn.Close()
			continue
		}

		w := s.leastBusyIOWorker()
		if !w.adopt(conn) {
			Logger.Warningf("Accept queue of IO worker %d is full, closing connection from %s", w.index, conn.RemoteAddr())
			_ = conn.Close()
		}
	}
}

func (s *RpcServer) leastBusyIOWorker() *ioWorker {
	best := s.ioWorkers[0]
	bestLoad := best.load()
	for _, w := range s.ioWorkers[1:] {
		if bestLoad == 0 {
			break
		}
		if load := w.load(); load < bestLoad {
			best, bestLoad = w, load
		}
	}
	return best
}

// dispatch hands a request to the business worker with the shortest queue.
// It is called by the IO workers and never blocks.
func (s *RpcServer) dispatch(req parsedRequest) bool {
	best := s.businessWorkers[0]
	bestLoad := best.load()
	for _, b := range s.businessWorkers[1:] {
		if bestLoad == 0 {
			break
		}
		if load := b.load(); load < bestLoad {
			best, bestLoad = b, load
		}
	}
	return best.offer(req)
}
