package server

import (
	"github.com/ValentinKolb/dRPC/rpc/transport/base"
	"github.com/ValentinKolb/dRPC/rpc/wire"
	"time"
)

// connection is the server side state of one accepted socket. It is owned by
// a single IO worker.
type connection struct {
	id     uint32
	pump   *base.Pump
	parser *wire.Parser

	// todo counts the requests handed to business workers whose response did
	// not come back yet. The connection is freed once it is invalid and todo
	// dropped to zero.
	todo  int
	valid bool

	lastRead time.Time
	idle     *time.Timer
}

// --------------------------------------------------------------------------
// Hand-off values
// --------------------------------------------------------------------------

// parsedRequest travels from an IO worker to a business worker
type parsedRequest struct {
	worker *ioWorker
	conn   *connection
	body   []byte
}

// response travels back to the IO worker the request came from. A nil frame
// means the request was dropped and only the todo count is updated.
type response struct {
	conn  *connection
	frame []byte
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

type eventKind uint8

const (
	evData eventKind = iota
	evClosed
	evIdle
)

type ioEvent struct {
	kind  eventKind
	conn  *connection
	chunk []byte
	err   error
}

// pumpHandler forwards the events of one socket to the owning IO worker
type pumpHandler struct {
	w    *ioWorker
	conn *connection
}

func (h *pumpHandler) OnData(chunk []byte) {
	h.w.post(ioEvent{kind: evData, conn: h.conn, chunk: chunk})
}

func (h *pumpHandler) OnClosed(err error) {
	h.w.post(ioEvent{kind: evClosed, conn: h.conn, err: err})
}
