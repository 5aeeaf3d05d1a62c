package client

import (
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
	"github.com/ValentinKolb/dRPC/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
	"sync"
	"sync/atomic"
)

var Logger = logger.GetLogger("rpc/client")

// lifecycle states of an RpcClient
const (
	clientNew uint32 = iota
	clientRunning
	clientEnded
)

// RpcClient owns a fixed set of IO workers. Every RpcChannel created by the
// client is bound to one of them on its first call.
//
// Usage:
//
//	c := client.NewRpcClient(common.DefaultClientConfig(), tcp.NewTCPClientConnector(), serializer.NewBinarySerializer())
//	c.Start()
//	defer c.End()
//
//	ch := c.NewChannel("localhost:8080")
//	defer ch.Close()
//
//	resp := &numservice.NumResponse{}
//	err := ch.Call(numservice.AddMethod, &numservice.NumRequest{Input1: 3, Input2: 4}, resp)
type RpcClient struct {
	config     common.ClientConfig
	connector  transport.IClientConnector
	serializer serializer.IRPCSerializer

	workers  []*ioWorker
	channels *xsync.MapOf[*RpcChannel, struct{}]

	state atomic.Uint32
	mu    sync.Mutex
	group errgroup.Group
}

// NewRpcClient creates a client. No goroutine is started before Start.
func NewRpcClient(
	config common.ClientConfig,
	connector transport.IClientConnector,
	serializer serializer.IRPCSerializer,
) *RpcClient {
	if config.IOWorkers <= 0 {
		config.IOWorkers = 1
	}

	c := &RpcClient{
		config:     config,
		connector:  connector,
		serializer: serializer,
		workers:    make([]*ioWorker, config.IOWorkers),
		channels:   xsync.NewMapOf[*RpcChannel, struct{}](),
	}
	for i := range c.workers {
		c.workers[i] = newIOWorker(i, config, connector)
	}

	Logger.Infof("Created RPC Client (%s transport, %s serializer)", connector.GetName(), serializer.Name())
	Logger.Debugf(config.String())

	return c
}

// Start launches the IO workers. Calling it again, or after End, does nothing.
func (c *RpcClient) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.CompareAndSwap(clientNew, clientRunning) {
		return
	}
	for _, w := range c.workers {
		c.group.Go(w.run)
	}
	Logger.Infof("RPC Client started with %d IO workers", len(c.workers))
}

// End stops the IO workers and waits for them. Every call that has not
// completed yet fails with common.ErrClientClosed. End is idempotent.
func (c *RpcClient) End() {
	c.mu.Lock()
	prev := c.state.Swap(clientEnded)
	c.mu.Unlock()

	if prev == clientEnded {
		return
	}

	c.channels.Range(func(ch *RpcChannel, _ struct{}) bool {
		ch.markClosed()
		return true
	})
	c.channels.Clear()

	for _, w := range c.workers {
		w.end()
	}

	if prev == clientRunning {
		if err := c.group.Wait(); err != nil {
			Logger.Errorf("IO worker failed: %v", err)
		}
	}
	Logger.Infof("RPC Client stopped")
}

// NewChannel returns a channel to endpoint. The connection is opened lazily
// on the first call.
func (c *RpcClient) NewChannel(endpoint string) *RpcChannel {
	ch := &RpcChannel{
		client:   c,
		endpoint: endpoint,
	}
	if c.state.Load() != clientEnded {
		c.channels.Store(ch, struct{}{})
	}
	return ch
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// checkRunning returns the error a call gets when the client can not take it
func (c *RpcClient) checkRunning() error {
	switch c.state.Load() {
	case clientNew:
		return common.ErrClientNotStarted
	case clientEnded:
		return common.ErrClientClosed
	default:
		return nil
	}
}

// schedule picks the worker with the fewest connections and reserves a
// connection id on it
func (c *RpcClient) schedule() (*ioWorker, uint32, error) {
	var best *ioWorker
	var bestLoad int64
	for _, w := range c.workers {
		load := w.load()
		if best == nil || load < bestLoad {
			best, bestLoad = w, load
		}
		if load == 0 {
			break
		}
	}

	id, err := best.allocConnID()
	if err != nil {
		return nil, 0, err
	}
	return best, id, nil
}
