package client

import (
	"github.com/ValentinKolb/dRPC/lib/util"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
	"github.com/ValentinKolb/dRPC/rpc/transport/base"
	"github.com/ValentinKolb/dRPC/rpc/wire"
	"net"
	"time"
)

// --------------------------------------------------------------------------
// Tasks (caller goroutines -> IO worker)
// --------------------------------------------------------------------------

type taskKind uint8

const (
	taskConnect taskKind = iota
	taskCall
)

// ioTask is the unit of work a caller hands to an IO worker. Ownership of
// the call moves to the worker with the task.
type ioTask struct {
	kind     taskKind
	connID   uint32
	endpoint string // taskConnect only
	call     *call  // taskCall only
}

// --------------------------------------------------------------------------
// Events (pumps, dialers and timers -> IO worker)
// --------------------------------------------------------------------------

type eventKind uint8

const (
	evData eventKind = iota
	evClosed
	evDialed
	evDialFailed
	evIdle
	evRedial
)

// ioEvent reports something that happened to a connection. Events carry the
// socket epoch they belong to, events of an older epoch are ignored.
type ioEvent struct {
	kind   eventKind
	connID uint32
	epoch  uint64
	chunk  []byte   // evData
	conn   net.Conn // evDialed
	err    error    // evClosed, evDialFailed
}

// --------------------------------------------------------------------------
// Call
// --------------------------------------------------------------------------

// call is one outstanding request. After submission it is only touched by
// the IO worker that owns its connection.
type call struct {
	id          uint32
	connID      uint32
	serviceName string
	methodIndex uint32
	request     []byte
	resp        any
	serializer  serializer.IRPCSerializer
	ctrl        *common.Controller
	done        func()
	wake        chan struct{} // closed on completion if done is nil
	deadline    time.Time     // zero = no timeout
	completed   bool
}

// complete delivers the outcome of the call. Only the first invocation has
// an effect.
func (c *call) complete(err error) {
	if c.completed {
		return
	}
	c.completed = true
	c.request = nil

	if err != nil {
		c.ctrl.Fail(err)
		common.ClientCallsFailed.Inc()
	}

	if c.done != nil {
		c.done()
	} else {
		close(c.wake)
	}
}

// expired reports whether the call has a deadline that passed
func (c *call) expired(now time.Time) bool {
	return !c.deadline.IsZero() && now.After(c.deadline)
}

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

type connState uint8

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

func (s connState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// connection is the state of one logical channel to a server endpoint. The
// socket below it may be replaced several times, every new socket gets a new
// epoch.
type connection struct {
	id       uint32
	endpoint string
	state    connState
	epoch    uint64

	pump   *base.Pump
	parser *wire.Parser

	calls   map[uint32]*call
	callIDs *util.IdPool[uint32]
	parked  []*call // calls waiting for the socket, in submission order

	attempts int           // consecutive failed connect attempts
	backoff  time.Duration // delay before the next redial
	redial   *time.Timer

	idle        *time.Timer
	lastRead    time.Time
	mightBeLost bool // a PING is outstanding
}

func newConnection(id uint32, endpoint string, parser *wire.Parser, maxCallID uint32) *connection {
	return &connection{
		id:       id,
		endpoint: endpoint,
		state:    stateDisconnected,
		parser:   parser,
		calls:    make(map[uint32]*call),
		callIDs:  util.NewIdPool[uint32](maxCallID),
	}
}

// stopTimers stops the idle and redial timers. Events they already posted
// are filtered by the epoch check.
func (c *connection) stopTimers() {
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
	if c.redial != nil {
		c.redial.Stop()
		c.redial = nil
	}
}

// failInFlight fails every call that was sent on the current socket
func (c *connection) failInFlight(err error) {
	for id, cl := range c.calls {
		delete(c.calls, id)
		c.callIDs.Recycle(id)
		cl.complete(err)
	}
}

// failParked fails every call that waits for a socket
func (c *connection) failParked(err error) {
	parked := c.parked
	c.parked = nil
	for _, cl := range parked {
		cl.complete(err)
	}
}

// pumpHandler forwards the events of one socket to the owning IO worker
type pumpHandler struct {
	w      *ioWorker
	connID uint32
	epoch  uint64
}

func (h *pumpHandler) OnData(chunk []byte) {
	h.w.post(ioEvent{kind: evData, connID: h.connID, epoch: h.epoch, chunk: chunk})
}

func (h *pumpHandler) OnClosed(err error) {
	h.w.post(ioEvent{kind: evClosed, connID: h.connID, epoch: h.epoch, err: err})
}
