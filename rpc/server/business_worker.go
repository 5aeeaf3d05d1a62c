package server

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/dRPC/lib/util"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/serializer"
	"github.com/ValentinKolb/dRPC/rpc/service"
	"github.com/ValentinKolb/dRPC/rpc/wire"
	"time"
)

// businessWorker runs service handlers. It owns a blocking request queue
// that IO workers feed with Offer, so a full queue never stalls a reactor.
type businessWorker struct {
	index        int
	registry     *service.Registry
	serializer   serializer.IRPCSerializer
	order        binary.ByteOrder
	reportErrors bool
	queue        *util.BoundedChannel[parsedRequest]
}

func newBusinessWorker(index int, config common.ServerConfig, registry *service.Registry, s serializer.IRPCSerializer) *businessWorker {
	return &businessWorker{
		index:        index,
		registry:     registry,
		serializer:   s,
		order:        wire.ByteOrder(config.NetworkByteOrder),
		reportErrors: config.ReportErrors,
		queue:        util.NewBoundedChannel[parsedRequest](config.BusinessQueueCapacity, true),
	}
}

// offer queues a request without blocking
func (b *businessWorker) offer(req parsedRequest) bool {
	return b.queue.Offer(req)
}

// load returns the number of queued requests
func (b *businessWorker) load() int {
	return b.queue.Size()
}

// end lets run return once the queue is drained
func (b *businessWorker) end() {
	b.queue.Stop()
}

func (b *businessWorker) run() error {
	for {
		batch := b.queue.TakeAll()
		if len(batch) == 0 {
			Logger.Debugf("Business worker %d stopped", b.index)
			return nil
		}
		for _, req := range batch {
			frame := b.process(req.body)
			req.worker.deliver(response{conn: req.conn, frame: frame})
		}
	}
}

// process turns a request body into a complete response frame. It returns
// nil for requests that are dropped without an answer.
func (b *businessWorker) process(body []byte) []byte {
	var env wire.RequestEnvelope
	if err := env.Unmarshal(body); err != nil {
		Logger.Warningf("Dropping request: %v", err)
		return nil
	}

	method, ok := b.registry.Lookup(env.ServiceName, env.MethodIndex)
	if !ok {
		Logger.Warningf("Dropping request for unknown method %s[%d]", env.ServiceName, env.MethodIndex)
		return nil
	}

	out := wire.ResponseEnvelope{CallID: env.CallID}

	req, resp := method.NewRequest(), method.NewResponse()
	if err := b.serializer.Deserialize(env.Payload, req); err != nil {
		return b.fail(&out, fmt.Sprintf("%s.%s: %v: %v", env.ServiceName, method.Name, common.ErrDeserializeRequest, err))
	}

	ctrl := common.NewController()
	start := time.Now()
	if !b.invoke(env.ServiceName, method, ctrl, req, resp) {
		return nil
	}
	common.ServerHandlerDuration.UpdateDuration(start)

	if ctrl.Failed() && b.reportErrors {
		out.Error = ctrl.ErrorText()
		return b.frame(&out)
	}

	payload, err := b.serializer.Serialize(resp)
	if err != nil {
		return b.fail(&out, fmt.Sprintf("%s.%s: %v: %v", env.ServiceName, method.Name, common.ErrSerializeResponse, err))
	}
	out.Payload = payload
	return b.frame(&out)
}

// fail answers with the error text if errors are reported, otherwise the
// request is dropped
func (b *businessWorker) fail(out *wire.ResponseEnvelope, reason string) []byte {
	if !b.reportErrors {
		Logger.Warningf("Dropping request: %s", reason)
		return nil
	}
	out.Error = reason
	return b.frame(out)
}

// invoke calls the handler. A panicking handler is logged and its request
// dropped.
func (b *businessWorker) invoke(serviceName string, method *service.Method, ctrl *common.Controller, req, resp any) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("Handler %s.%s panicked: %v", serviceName, method.Name, r)
			ok = false
		}
	}()
	method.Handler(ctrl, req, resp)
	return true
}

func (b *businessWorker) frame(env *wire.ResponseEnvelope) []byte {
	frame := make([]byte, wire.HeaderSize, wire.HeaderSize+len(env.Payload)+len(env.Error)+16)
	frame = env.Marshal(frame)
	wire.Header{Kind: wire.KindResponse, Length: uint32(len(frame) - wire.HeaderSize)}.Marshal(b.order, frame)
	return frame
}
