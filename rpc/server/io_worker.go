package server

import (
	"encoding/binary"
	"github.com/ValentinKolb/dRPC/lib/util"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/transport/base"
	"github.com/ValentinKolb/dRPC/rpc/wire"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// eventBacklog is the number of socket and timer events that can wait for a
// busy IO worker before the posting goroutines block
const eventBacklog = 1024

// maxConnectionID limits the connections of one IO worker
const maxConnectionID = 1<<32 - 1

// ioWorker is a reactor owning a set of accepted connections. It parses
// frames, answers heartbeats itself and hands requests to business workers.
// Responses come back through the write queue.
type ioWorker struct {
	index    int
	config   common.ServerConfig
	order    binary.ByteOrder
	pool     *base.ChunkPool
	pong     []byte
	dispatch func(req parsedRequest) bool

	accepts *util.BoundedChannel[net.Conn]
	writes  *util.BoundedChannel[response]
	wake    chan struct{}
	events  chan ioEvent
	endCh   chan struct{}
	endOnce sync.Once
	exited  chan struct{}
	alive   atomic.Bool

	// busy counts the connections owned by the worker, read by the accept loop
	busy    *xsync.Counter
	connIDs *util.IdPool[uint32]
	conns   map[uint32]*connection
	sockets sync.WaitGroup
}

func newIOWorker(index int, config common.ServerConfig, dispatch func(req parsedRequest) bool) *ioWorker {
	order := wire.ByteOrder(config.NetworkByteOrder)
	w := &ioWorker{
		index:    index,
		config:   config,
		order:    order,
		pool:     base.NewChunkPool(config.ReadChunkSize),
		pong:     wire.HeartbeatFrame(order, wire.KindPong),
		dispatch: dispatch,
		accepts:  util.NewBoundedChannel[net.Conn](config.AcceptQueueCapacity, false),
		writes:   util.NewBoundedChannel[response](config.WriteQueueCapacity, false),
		wake:     make(chan struct{}, 1),
		events:   make(chan ioEvent, eventBacklog),
		endCh:    make(chan struct{}),
		exited:   make(chan struct{}),
		busy:     xsync.NewCounter(),
		connIDs:  util.NewIdPool[uint32](maxConnectionID),
		conns:    make(map[uint32]*connection),
	}
	w.alive.Store(true)
	return w
}

// --------------------------------------------------------------------------
// Other goroutines
// --------------------------------------------------------------------------

// load returns the number of connections owned by the worker
func (w *ioWorker) load() int64 {
	return w.busy.Value()
}

// adopt queues an accepted socket. It returns false if the accept queue is
// full, the caller still owns the socket then.
func (w *ioWorker) adopt(conn net.Conn) bool {
	w.busy.Inc()
	if !w.accepts.Put(conn) {
		w.busy.Dec()
		return false
	}
	w.signal()
	return true
}

// deliver hands a response back to the worker. A full write queue is
// retried for as long as the worker is running.
func (w *ioWorker) deliver(r response) {
	for !w.writes.Put(r) {
		if !w.alive.Load() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	w.signal()
}

// signal wakes the worker, the item must already be queued
func (w *ioWorker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// post delivers an event to the reactor. Once the reactor exited the event
// is discarded.
func (w *ioWorker) post(ev ioEvent) {
	select {
	case w.events <- ev:
	case <-w.exited:
		w.discard(ev)
	}
}

// end starts the shutdown. The worker closes all sockets and exits once every
// outstanding response came back or the shutdown timeout passed.
func (w *ioWorker) end() {
	w.endOnce.Do(func() {
		close(w.endCh)
	})
}

// --------------------------------------------------------------------------
// Reactor loop
// --------------------------------------------------------------------------

func (w *ioWorker) run() error {
	for {
		select {
		case <-w.wake:
			w.adoptConnections()
			w.writeResponses()
		case ev := <-w.events:
			w.handleEvent(ev)
		case <-w.endCh:
			w.shutdown()
			return nil
		}
	}
}

func (w *ioWorker) shutdown() {
	for _, conn := range w.accepts.TakeAll() {
		_ = conn.Close()
		w.busy.Dec()
	}
	for _, c := range w.conns {
		w.invalidate(c)
	}

	timeout := time.NewTimer(w.config.ShutdownTimeout)
	defer timeout.Stop()

wait:
	for len(w.conns) > 0 {
		select {
		case <-w.wake:
			w.writeResponses()
		case ev := <-w.events:
			w.handleEvent(ev)
		case <-timeout.C:
			Logger.Warningf("IO worker %d stops with %d connections waiting for responses", w.index, len(w.conns))
			break wait
		}
	}
	w.alive.Store(false)
	close(w.exited)

	// socket goroutines may still post, their events are discarded
	drained := make(chan struct{})
	go func() {
		w.sockets.Wait()
		close(drained)
	}()
	for {
		select {
		case ev := <-w.events:
			w.discard(ev)
		case <-drained:
			for {
				select {
				case ev := <-w.events:
					w.discard(ev)
				default:
					Logger.Debugf("IO worker %d stopped", w.index)
					return
				}
			}
		}
	}
}

func (w *ioWorker) discard(ev ioEvent) {
	if ev.chunk != nil {
		w.pool.Put(ev.chunk)
	}
}

// --------------------------------------------------------------------------
// Connections
// --------------------------------------------------------------------------

func (w *ioWorker) adoptConnections() {
	for _, conn := range w.accepts.TakeAll() {
		id, ok := w.connIDs.Generate()
		if !ok {
			Logger.Warningf("IO worker %d has no connection id left, closing connection from %s", w.index, conn.RemoteAddr())
			_ = conn.Close()
			w.busy.Dec()
			continue
		}

		c := &connection{
			id:       id,
			parser:   wire.NewParser(w.order, w.config.MaxBodySize),
			valid:    true,
			lastRead: time.Now(),
		}
		c.pump = base.NewPump(conn, w.pool, &pumpHandler{w: w, conn: c})
		w.conns[id] = c

		c.pump.Start()
		w.sockets.Add(1)
		go func(p *base.Pump) {
			p.Wait()
			w.sockets.Done()
		}(c.pump)

		w.armIdle(c, w.config.IdleTimeout)
		common.ServerConnectionsAccepted.Inc()
		Logger.Debugf("Accepted connection %d from %s (IO worker %d)", id, conn.RemoteAddr(), w.index)
	}
}

// invalidate closes the socket of a connection. Its state is kept until the
// outstanding responses came back.
func (w *ioWorker) invalidate(c *connection) {
	if c.valid {
		c.valid = false
		if c.idle != nil {
			c.idle.Stop()
		}
		c.pump.Close()
		common.ServerConnectionsClosed.Inc()
		Logger.Debugf("Closed connection %d from %s", c.id, c.pump.RemoteAddr())
	}
	w.maybeFree(c)
}

func (w *ioWorker) maybeFree(c *connection) {
	if c.valid || c.todo > 0 {
		return
	}
	delete(w.conns, c.id)
	w.connIDs.Recycle(c.id)
	w.busy.Dec()
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

func (w *ioWorker) handleEvent(ev ioEvent) {
	c := ev.conn
	if w.conns[c.id] != c || !c.valid {
		w.discard(ev)
		return
	}

	switch ev.kind {
	case evData:
		w.onData(c, ev.chunk)
	case evClosed:
		Logger.Debugf("Connection %d from %s failed: %v", c.id, c.pump.RemoteAddr(), ev.err)
		w.invalidate(c)
	case evIdle:
		w.onIdle(c)
	}
}

func (w *ioWorker) onData(c *connection, chunk []byte) {
	c.parser.Feed(chunk)
	w.pool.Put(chunk)
	c.lastRead = time.Now()

	for c.valid {
		frame, ok, err := c.parser.Next()
		if err != nil {
			Logger.Warningf("Closing connection %d from %s: %v", c.id, c.pump.RemoteAddr(), err)
			w.invalidate(c)
			return
		}
		if !ok {
			return
		}

		switch frame.Kind {
		case wire.KindPing:
			c.pump.Send(w.pong)
			common.ServerPongsSent.Inc()
		case wire.KindPong:
		case wire.KindRequest:
			common.ServerRequests.Inc()
			if w.dispatch(parsedRequest{worker: w, conn: c, body: frame.Body}) {
				c.todo++
			} else {
				common.ServerRequestsDropped.Inc()
				Logger.Warningf("Dropping request from %s: business queues are full", c.pump.RemoteAddr())
			}
		default:
			Logger.Warningf("Ignoring %s frame from %s", frame.Kind, c.pump.RemoteAddr())
		}
	}
}

// writeResponses frames every response that came back from the business
// workers
func (w *ioWorker) writeResponses() {
	for _, r := range w.writes.TakeAll() {
		c := r.conn
		c.todo--
		if c.valid && r.frame != nil {
			c.pump.Send(r.frame)
		}
		w.maybeFree(c)
	}
}

// --------------------------------------------------------------------------
// Idle timeout
// --------------------------------------------------------------------------

func (w *ioWorker) armIdle(c *connection, d time.Duration) {
	if w.config.IdleTimeout <= 0 {
		return
	}
	if c.idle != nil {
		c.idle.Reset(d)
		return
	}
	c.idle = time.AfterFunc(d, func() {
		w.post(ioEvent{kind: evIdle, conn: c})
	})
}

func (w *ioWorker) onIdle(c *connection) {
	silent := time.Since(c.lastRead)
	if silent < w.config.IdleTimeout {
		w.armIdle(c, w.config.IdleTimeout-silent)
		return
	}
	Logger.Infof("Closing connection %d from %s after %s without data", c.id, c.pump.RemoteAddr(), silent.Round(time.Millisecond))
	w.invalidate(c)
}
