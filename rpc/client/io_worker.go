package client

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/dRPC/lib/util"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/transport"
	"github.com/ValentinKolb/dRPC/rpc/transport/base"
	"github.com/ValentinKolb/dRPC/rpc/wire"
	"github.com/puzpuzpuz/xsync/v3"
	"net"
	"sync"
	"time"
)

// eventBacklog is the number of socket and timer events that can wait for a
// busy IO worker before the posting goroutines block
const eventBacklog = 1024

// ioWorker is a reactor that owns a set of connections. All connection
// state is touched by the run goroutine only. Callers talk to it through the
// task queue, sockets and timers through the event channel.
type ioWorker struct {
	index     int
	config    common.ClientConfig
	connector transport.IClientConnector
	order     binary.ByteOrder
	pool      *base.ChunkPool
	ping      []byte
	pong      []byte

	tasks *util.BoundedChannel[ioTask]
	// closes holds the connection ids of closed channels. It is unbounded, a
	// disconnect must never be rejected because calls filled the task queue.
	closes *util.BoundedChannel[uint32]
	wake   chan struct{}
	events chan ioEvent

	// submitMu orders submissions against end, so every task that made it
	// into the queue is seen by the shutdown drain
	submitMu sync.RWMutex
	ended    bool
	endCh    chan struct{}
	endOnce  sync.Once

	// connection ids are handed out to caller goroutines
	connMu  sync.Mutex
	connIDs *util.IdPool[uint32]
	busy    *xsync.Counter

	conns   map[uint32]*connection
	dialers sync.WaitGroup
}

func newIOWorker(index int, config common.ClientConfig, connector transport.IClientConnector) *ioWorker {
	order := wire.ByteOrder(config.NetworkByteOrder)
	return &ioWorker{
		index:     index,
		config:    config,
		connector: connector,
		order:     order,
		pool:      base.NewChunkPool(config.ReadChunkSize),
		ping:      wire.HeartbeatFrame(order, wire.KindPing),
		pong:      wire.HeartbeatFrame(order, wire.KindPong),
		tasks:     util.NewBoundedChannel[ioTask](config.QueueCapacity, false),
		closes:    util.NewBoundedChannel[uint32](util.Unbounded, false),
		wake:      make(chan struct{}, 1),
		events:    make(chan ioEvent, eventBacklog),
		endCh:     make(chan struct{}),
		connIDs:   util.NewIdPool[uint32](config.MaxConnections),
		busy:      xsync.NewCounter(),
		conns:     make(map[uint32]*connection),
	}
}

// --------------------------------------------------------------------------
// Caller side (any goroutine)
// --------------------------------------------------------------------------

// load returns the number of connections owned by the worker
func (w *ioWorker) load() int64 {
	return w.busy.Value()
}

// allocConnID reserves a connection id on this worker
func (w *ioWorker) allocConnID() (uint32, error) {
	w.connMu.Lock()
	defer w.connMu.Unlock()

	id, ok := w.connIDs.Generate()
	if !ok {
		return 0, fmt.Errorf("%w: worker %d owns %d connections", common.ErrConnIDExhausted, w.index, w.connIDs.InUse())
	}
	w.busy.Inc()
	return id, nil
}

func (w *ioWorker) releaseConnID(id uint32) {
	w.connMu.Lock()
	defer w.connMu.Unlock()

	w.connIDs.Recycle(id)
	w.busy.Dec()
}

// submit queues a task and wakes the worker. The task is queued before the
// wake signal is sent, so the worker can not miss it.
func (w *ioWorker) submit(t ioTask) error {
	w.submitMu.RLock()
	defer w.submitMu.RUnlock()

	if w.ended {
		return common.ErrClientClosed
	}
	if !w.tasks.Put(t) {
		return fmt.Errorf("%w: worker %d", common.ErrQueueFull, w.index)
	}
	w.signal()
	return nil
}

// submitClose queues the release of a connection. It only fails once the
// worker ended, the connection is torn down by the shutdown then.
func (w *ioWorker) submitClose(connID uint32) error {
	w.submitMu.RLock()
	defer w.submitMu.RUnlock()

	if w.ended {
		return common.ErrClientClosed
	}
	w.closes.Put(connID)
	w.signal()
	return nil
}

func (w *ioWorker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
		// a wake-up is already pending
	}
}

// post delivers an event to the worker. After end the event is discarded.
func (w *ioWorker) post(ev ioEvent) {
	select {
	case <-w.endCh:
		w.discard(ev)
		return
	default:
	}

	select {
	case w.events <- ev:
	case <-w.endCh:
		w.discard(ev)
	}
}

// end stops the worker. Tasks submitted afterward are rejected.
func (w *ioWorker) end() {
	w.endOnce.Do(func() {
		w.submitMu.Lock()
		w.ended = true
		w.submitMu.Unlock()
		close(w.endCh)
	})
}

// --------------------------------------------------------------------------
// Reactor loop
// --------------------------------------------------------------------------

func (w *ioWorker) run() error {
	var sweep <-chan time.Time
	if w.config.CallTimeout > 0 {
		ticker := time.NewTicker(max(w.config.CallTimeout/4, time.Millisecond))
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-w.wake:
			w.processTasks()
		case ev := <-w.events:
			w.handleEvent(ev)
		case now := <-sweep:
			w.expireCalls(now)
		case <-w.endCh:
			w.shutdown()
			return nil
		}
	}
}

func (w *ioWorker) processTasks() {
	for _, t := range w.tasks.TakeAll() {
		switch t.kind {
		case taskConnect:
			w.openConnection(t.connID, t.endpoint)
		case taskCall:
			w.startCall(t.call)
		}
	}
	// calls of a channel are queued before its disconnect, so they are never
	// started on a recycled connection id
	for _, id := range w.closes.TakeAll() {
		w.closeConnection(id)
	}
}

func (w *ioWorker) handleEvent(ev ioEvent) {
	c, ok := w.conns[ev.connID]
	if !ok || c.epoch != ev.epoch {
		w.discard(ev)
		return
	}

	switch ev.kind {
	case evData:
		w.onData(c, ev.chunk)
	case evClosed:
		w.connectionLost(c, fmt.Errorf("%w: %s: %v", common.ErrConnectionLost, c.endpoint, ev.err))
	case evDialed:
		w.onDialed(c, ev.conn)
	case evDialFailed:
		w.onDialFailed(c, ev.err)
	case evIdle:
		w.onIdle(c)
	case evRedial:
		w.dial(c)
	}
}

// discard releases the resources an ignored event carries
func (w *ioWorker) discard(ev ioEvent) {
	if ev.chunk != nil {
		w.pool.Put(ev.chunk)
	}
	if ev.conn != nil {
		_ = ev.conn.Close()
	}
}

// shutdown fails everything the worker still holds and waits until no
// goroutine can post events anymore
func (w *ioWorker) shutdown() {
	pumps := make([]*base.Pump, 0, len(w.conns))
	for id, c := range w.conns {
		if c.pump != nil {
			pumps = append(pumps, c.pump)
		}
		w.teardown(c, common.ErrClientClosed)
		c.failParked(common.ErrClientClosed)
		delete(w.conns, id)
	}

	w.closes.Stop()
	w.tasks.Stop()
	for _, t := range w.tasks.TakeAll() {
		if t.kind == taskCall {
			t.call.complete(common.ErrClientClosed)
		}
	}

	drained := make(chan struct{})
	go func() {
		w.dialers.Wait()
		for _, p := range pumps {
			p.Wait()
		}
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

// --------------------------------------------------------------------------
// Tasks
// --------------------------------------------------------------------------

func (w *ioWorker) openConnection(id uint32, endpoint string) {
	parser := wire.NewParser(w.order, w.config.MaxBodySize)
	c := newConnection(id, endpoint, parser, w.config.MaxCallID)
	w.conns[id] = c
	w.dial(c)
}

func (w *ioWorker) closeConnection(id uint32) {
	c, ok := w.conns[id]
	if !ok {
		return
	}
	w.teardown(c, common.ErrConnectionClosed)
	c.failParked(common.ErrConnectionClosed)
	delete(w.conns, id)
	w.releaseConnID(id)
	Logger.Debugf("Closed connection %d to %s", id, c.endpoint)
}

func (w *ioWorker) startCall(cl *call) {
	c, ok := w.conns[cl.connID]
	if !ok {
		cl.complete(fmt.Errorf("%w: connection %d", common.ErrConnectionClosed, cl.connID))
		return
	}

	if c.state == stateConnected {
		w.send(c, cl)
		return
	}

	c.parked = append(c.parked, cl)
	if c.state == stateDisconnected {
		c.attempts = 0
		c.backoff = 0
		w.dial(c)
	}
}

// send frames a call and hands it to the socket
func (w *ioWorker) send(c *connection, cl *call) {
	id, ok := c.callIDs.Generate()
	if !ok {
		cl.complete(fmt.Errorf("%w: %d calls in flight on connection %d", common.ErrCallIDExhausted, len(c.calls), c.id))
		return
	}
	cl.id = id

	env := wire.RequestEnvelope{
		CallID:      id,
		ServiceName: cl.serviceName,
		MethodIndex: cl.methodIndex,
		Payload:     cl.request,
	}

	// reserve the header, then fill it once the body length is known
	frame := make([]byte, wire.HeaderSize, wire.HeaderSize+len(cl.serviceName)+len(cl.request)+16)
	frame = env.Marshal(frame)
	wire.Header{Kind: wire.KindRequest, Length: uint32(len(frame) - wire.HeaderSize)}.Marshal(w.order, frame)

	cl.request = nil
	c.calls[id] = cl

	// a failed socket reports itself through an evClosed event, which fails the call
	c.pump.Send(frame)
}

// --------------------------------------------------------------------------
// Connection lifecycle
// --------------------------------------------------------------------------

// dial starts a connect attempt in a separate goroutine, the result arrives
// as an event
func (w *ioWorker) dial(c *connection) {
	c.stopTimers()
	c.state = stateConnecting
	c.epoch++

	id, epoch, endpoint := c.id, c.epoch, c.endpoint
	w.dialers.Add(1)
	go func() {
		defer w.dialers.Done()

		conn, err := w.connector.Connect(endpoint, w.config.DialTimeout)
		if err == nil {
			if err = w.connector.UpgradeConnection(conn, w.config.SocketConf, w.config.TCPConf); err != nil {
				_ = conn.Close()
			}
		}

		if err != nil {
			w.post(ioEvent{kind: evDialFailed, connID: id, epoch: epoch, err: err})
			return
		}
		w.post(ioEvent{kind: evDialed, connID: id, epoch: epoch, conn: conn})
	}()
}

func (w *ioWorker) onDialed(c *connection, conn net.Conn) {
	if c.state != stateConnecting {
		_ = conn.Close()
		return
	}

	c.state = stateConnected
	c.attempts = 0
	c.backoff = 0
	c.parser.Reset()
	c.pump = base.NewPump(conn, w.pool, &pumpHandler{w: w, connID: c.id, epoch: c.epoch})
	c.pump.Start()
	c.lastRead = time.Now()
	c.mightBeLost = false
	w.armIdle(c, w.config.HeartbeatInterval)

	common.ClientConnects.Inc()
	Logger.Infof("Connected to %s (connection %d, worker %d, %s transport)", c.endpoint, c.id, w.index, w.connector.GetName())

	parked := c.parked
	c.parked = nil
	for _, cl := range parked {
		w.send(c, cl)
	}
}

func (w *ioWorker) onDialFailed(c *connection, err error) {
	c.attempts++
	Logger.Warningf("Failed to connect to %s (attempt %d): %v", c.endpoint, c.attempts, err)

	if w.config.ConnectRetries > 0 && c.attempts >= w.config.ConnectRetries {
		c.state = stateDisconnected
		c.attempts = 0
		c.backoff = 0
		c.failParked(fmt.Errorf("%w: %s after %d attempts: %v", common.ErrConnectFailed, c.endpoint, w.config.ConnectRetries, err))
		return
	}
	w.scheduleRedial(c)
}

// scheduleRedial arms the redial timer with exponential backoff
func (w *ioWorker) scheduleRedial(c *connection) {
	if c.backoff == 0 {
		c.backoff = w.config.ReconnectBackoff
	} else {
		c.backoff *= 2
	}
	if limit := w.config.MaxReconnectBackoff; limit > 0 && c.backoff > limit {
		c.backoff = limit
	}

	c.state = stateConnecting
	id, epoch := c.id, c.epoch
	c.redial = time.AfterFunc(c.backoff, func() {
		w.post(ioEvent{kind: evRedial, connID: id, epoch: epoch})
	})
}

// connectionLost tears the socket down and starts reconnecting
func (w *ioWorker) connectionLost(c *connection, err error) {
	Logger.Warningf("Lost connection %d to %s: %v", c.id, c.endpoint, err)
	common.ClientConnectionsLost.Inc()
	w.teardown(c, err)
	w.scheduleRedial(c)
}

// teardown closes the socket and fails every call sent on it. Parked calls
// are kept.
func (w *ioWorker) teardown(c *connection, err error) {
	c.stopTimers()
	if c.pump != nil {
		c.pump.Close()
		c.pump = nil
	}
	c.epoch++
	c.state = stateDisconnected
	c.mightBeLost = false
	c.failInFlight(err)
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

func (w *ioWorker) onData(c *connection, chunk []byte) {
	c.parser.Feed(chunk)
	w.pool.Put(chunk)
	c.lastRead = time.Now()
	c.mightBeLost = false

	for {
		frame, ok, err := c.parser.Next()
		if err != nil {
			w.connectionLost(c, fmt.Errorf("%w: %s: %v", common.ErrConnectionLost, c.endpoint, err))
			return
		}
		if !ok {
			return
		}

		switch frame.Kind {
		case wire.KindResponse:
			w.handleResponse(c, frame.Body)
		case wire.KindPong:
			Logger.Debugf("PONG from %s (connection %d)", c.endpoint, c.id)
		case wire.KindPing:
			c.pump.Send(w.pong)
		default:
			Logger.Warningf("Ignoring %s frame from %s", frame.Kind, c.endpoint)
		}
	}
}

func (w *ioWorker) handleResponse(c *connection, body []byte) {
	var env wire.ResponseEnvelope
	if err := env.Unmarshal(body); err != nil {
		Logger.Warningf("Dropping response from %s: %v", c.endpoint, err)
		return
	}

	cl, ok := c.calls[env.CallID]
	if !ok {
		common.ClientResponsesDiscarded.Inc()
		Logger.Debugf("Discarding response for unknown call id %d from %s", env.CallID, c.endpoint)
		return
	}
	delete(c.calls, env.CallID)
	c.callIDs.Recycle(env.CallID)

	if env.Error != "" {
		cl.complete(fmt.Errorf("%w: %s", common.ErrRemote, env.Error))
		return
	}
	if cl.resp != nil {
		if err := cl.serializer.Deserialize(env.Payload, cl.resp); err != nil {
			cl.complete(fmt.Errorf("%w: %v", common.ErrDeserialize, err))
			return
		}
	}
	cl.complete(nil)
}

// --------------------------------------------------------------------------
// Timers
// --------------------------------------------------------------------------

// armIdle (re)starts the heartbeat timer of a connected socket
func (w *ioWorker) armIdle(c *connection, d time.Duration) {
	if w.config.HeartbeatInterval <= 0 {
		return
	}
	if c.idle != nil {
		c.idle.Reset(d)
		return
	}
	id, epoch := c.id, c.epoch
	c.idle = time.AfterFunc(d, func() {
		w.post(ioEvent{kind: evIdle, connID: id, epoch: epoch})
	})
}

// onIdle sends a PING after one silent interval and gives the connection up
// after the second
func (w *ioWorker) onIdle(c *connection) {
	if c.state != stateConnected {
		return
	}

	interval := w.config.HeartbeatInterval
	if silent := time.Since(c.lastRead); silent < interval {
		w.armIdle(c, interval-silent)
		return
	}

	if c.mightBeLost {
		w.connectionLost(c, fmt.Errorf("%w: %s silent for %s", common.ErrHeartbeatTimeout, c.endpoint, time.Since(c.lastRead).Round(time.Millisecond)))
		return
	}

	c.pump.Send(w.ping)
	c.mightBeLost = true
	common.ClientHeartbeatsSent.Inc()
	Logger.Debugf("PING to %s (connection %d)", c.endpoint, c.id)
	w.armIdle(c, interval)
}

// expireCalls fails every call whose deadline passed. A response arriving
// later is discarded as unknown.
func (w *ioWorker) expireCalls(now time.Time) {
	for _, c := range w.conns {
		for id, cl := range c.calls {
			if cl.expired(now) {
				delete(c.calls, id)
				c.callIDs.Recycle(id)
				cl.complete(fmt.Errorf("%w: call %d to %s", common.ErrCallTimeout, id, c.endpoint))
			}
		}

		if len(c.parked) == 0 {
			continue
		}
		waiting := c.parked[:0]
		for _, cl := range c.parked {
			if cl.expired(now) {
				cl.complete(fmt.Errorf("%w: %s not connected", common.ErrCallTimeout, c.endpoint))
				continue
			}
			waiting = append(waiting, cl)
		}
		for i := len(waiting); i < len(c.parked); i++ {
			c.parked[i] = nil
		}
		c.parked = waiting
	}
}
