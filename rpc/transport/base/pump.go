package base

import (
	"github.com/ValentinKolb/dRPC/lib/util"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"sync"
	"sync/atomic"
)

var Logger = logger.GetLogger("transport/rpc")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IPumpHandler receives everything a pump reads from its socket. The methods
// are called from the pump's own goroutines and must not block for long,
// IO workers implement them by posting an event to their reactor loop.
type IPumpHandler interface {
	// OnData is called for every successful read, in stream order. The chunk
	// comes from the pump's ChunkPool and belongs to the handler, it should be
	// returned with ChunkPool.Put once its bytes were consumed.
	OnData(chunk []byte)

	// OnClosed is called at most once when the socket failed or the peer
	// closed it. It is not called after Close.
	OnClosed(err error)
}

// -----------------------------------------------------------
// Pump
// -----------------------------------------------------------

// Pump moves bytes between one socket and the IO worker that owns it. A
// reader goroutine hands every chunk to the handler, a writer goroutine
// drains an unbounded outbound queue and writes the queued frames with one
// vectored write per batch.
//
// The owning IO worker never touches the socket directly, so it can not be
// blocked by a slow peer.
type Pump struct {
	conn    net.Conn
	pool    *ChunkPool
	handler IPumpHandler
	out     *util.BoundedChannel[[]byte]
	closed  atomic.Bool
	once    sync.Once
	wg      sync.WaitGroup
}

// NewPump creates a pump for conn. Nothing is read or written before Start.
func NewPump(conn net.Conn, pool *ChunkPool, handler IPumpHandler) *Pump {
	return &Pump{
		conn:    conn,
		pool:    pool,
		handler: handler,
		out:     util.NewBoundedChannel[[]byte](util.Unbounded, true),
	}
}

// Start launches the reader and writer goroutines
func (p *Pump) Start() {
	p.wg.Add(2)
	go p.readLoop()
	go p.writeLoop()
}

// Send queues a complete frame for writing. The frame must not be modified
// afterwards. It returns false once the pump is closed.
func (p *Pump) Send(frame []byte) bool {
	if p.closed.Load() || p.out.Stopped() {
		return false
	}
	return p.out.Put(frame)
}

// Close closes the socket and stops both goroutines. Frames that were not
// written yet are dropped. Close does not wait, use Wait for that.
func (p *Pump) Close() {
	p.closed.Store(true)
	p.shutdown()
}

// Wait blocks until both goroutines exited
func (p *Pump) Wait() {
	p.wg.Wait()
}

// RemoteAddr returns the address of the peer
func (p *Pump) RemoteAddr() net.Addr {
	return p.conn.RemoteAddr()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (p *Pump) readLoop() {
	defer p.wg.Done()

	for {
		buf := p.pool.Get()
		n, err := p.conn.Read(buf)
		if n > 0 {
			p.handler.OnData(buf[:n])
		} else {
			p.pool.Put(buf)
		}
		if err != nil {
			p.fail(err)
			return
		}
	}
}

func (p *Pump) writeLoop() {
	defer p.wg.Done()

	for {
		// blocks until frames are queued, returns nothing once stopped and drained
		frames := p.out.TakeAll()
		if len(frames) == 0 {
			return
		}

		bufs := net.Buffers(frames)
		if _, err := bufs.WriteTo(p.conn); err != nil {
			p.fail(err)
			return
		}
	}
}

// fail reports the first socket error to the handler unless the pump was
// closed by its owner, then tears the socket down
func (p *Pump) fail(err error) {
	if !p.closed.Swap(true) {
		Logger.Debugf("Connection to %s failed: %v", p.conn.RemoteAddr(), err)
		p.handler.OnClosed(err)
	}
	p.shutdown()
}

func (p *Pump) shutdown() {
	p.once.Do(func() {
		p.out.Stop()
		_ = p.conn.Close()
	})
}
