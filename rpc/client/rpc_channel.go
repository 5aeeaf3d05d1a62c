package client

import (
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/service"
	"sync"
	"time"
)

// RpcChannel is a logical connection to one server endpoint. It is safe for
// concurrent use, calls from several goroutines are multiplexed over the
// same socket.
type RpcChannel struct {
	client   *RpcClient
	endpoint string

	mu     sync.Mutex
	worker *ioWorker
	connID uint32
	bound  bool
	closed bool
}

// Endpoint returns the address the channel connects to
func (ch *RpcChannel) Endpoint() string {
	return ch.endpoint
}

// CallMethod invokes md on the server. req is serialized with the client's
// serializer, the reply is deserialized into resp. Every failure is reported
// through ctrl, which is reset first.
//
// If done is nil the call blocks until it completed. Otherwise CallMethod
// returns immediately and done is invoked exactly once, on the IO worker
// goroutine that owns the connection (or on the calling goroutine if the
// call could not be submitted). done must not block and must not issue
// synchronous calls on the same client.
func (ch *RpcChannel) CallMethod(md *service.MethodDescriptor, ctrl *common.Controller, req, resp any, done func()) {
	if ctrl == nil {
		ctrl = common.NewController()
	}
	ctrl.Reset()
	common.ClientCallsStarted.Inc()

	cl := &call{
		resp:       resp,
		serializer: ch.client.serializer,
		ctrl:       ctrl,
		done:       done,
	}
	if done == nil {
		cl.wake = make(chan struct{})
	}

	if err := ch.submit(cl, md, req); err != nil {
		cl.complete(err)
	}

	if done == nil {
		<-cl.wake
	}
}

// Call is the blocking form of CallMethod. It returns the failure reported
// to the call's controller, or nil.
func (ch *RpcChannel) Call(md *service.MethodDescriptor, req, resp any) error {
	ctrl := common.NewController()
	ch.CallMethod(md, ctrl, req, resp, nil)
	return ctrl.Err()
}

// Close releases the connection. Calls that are still pending fail with
// common.ErrConnectionClosed, later calls on the channel fail the same way.
func (ch *RpcChannel) Close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	w, id, bound := ch.worker, ch.connID, ch.bound
	ch.mu.Unlock()

	ch.client.channels.Delete(ch)
	if !bound {
		return
	}

	// the connection id is released by the worker
	if err := w.submitClose(id); err != nil {
		Logger.Debugf("Disconnect of %s not submitted: %v", ch.endpoint, err)
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (ch *RpcChannel) submit(cl *call, md *service.MethodDescriptor, req any) error {
	if md == nil {
		return fmt.Errorf("%w: no method descriptor", common.ErrInvalidArgument)
	}
	cl.serviceName = md.Service
	cl.methodIndex = md.Index

	payload, err := ch.client.serializer.Serialize(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", common.ErrSerialize, md, err)
	}
	cl.request = payload

	// the call is queued under the lock, so it can not overtake a disconnect
	// and end up on a recycled connection id
	ch.mu.Lock()
	defer ch.mu.Unlock()

	w, connID, err := ch.bindLocked()
	if err != nil {
		return err
	}
	cl.connID = connID
	if timeout := ch.client.config.CallTimeout; timeout > 0 {
		cl.deadline = time.Now().Add(timeout)
	}

	return w.submit(ioTask{kind: taskCall, connID: connID, call: cl})
}

// bindLocked returns the worker and connection id of the channel. The first
// call schedules a worker and asks it to connect. The caller holds ch.mu.
func (ch *RpcChannel) bindLocked() (*ioWorker, uint32, error) {
	if err := ch.client.checkRunning(); err != nil {
		return nil, 0, err
	}
	if ch.closed {
		return nil, 0, fmt.Errorf("%w: channel to %s", common.ErrConnectionClosed, ch.endpoint)
	}
	if ch.bound {
		return ch.worker, ch.connID, nil
	}

	w, id, err := ch.client.schedule()
	if err != nil {
		return nil, 0, err
	}
	if err := w.submit(ioTask{kind: taskConnect, connID: id, endpoint: ch.endpoint}); err != nil {
		w.releaseConnID(id)
		return nil, 0, err
	}

	ch.worker, ch.connID, ch.bound = w, id, true
	return w, id, nil
}

// markClosed rejects further calls without notifying the worker. Used when
// the whole client ends.
func (ch *RpcChannel) markClosed() {
	ch.mu.Lock()
	ch.closed = true
	ch.mu.Unlock()
}
