package numservice

import (
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
	"github.com/ValentinKolb/dRPC/rpc/service"
)

// ServiceName is the wire name of the service
const ServiceName = "testNamespace.NumService"

// NumRequest holds the two operands of a calculation
type NumRequest struct {
	Input1 int64
	Input2 int64
}

// NumResponse holds the result of a calculation
type NumResponse struct {
	Output int64
}

// NewService returns the method table of the service. The order of the
// methods is part of the wire contract.
func NewService() *service.Service {
	return &service.Service{
		Name: ServiceName,
		Methods: []service.Method{
			service.NewMethod[NumRequest, NumResponse]("add", add),
			service.NewMethod[NumRequest, NumResponse]("minus", minus),
		},
	}
}

// Descriptors used by clients
var (
	AddMethod   = NewService().MustMethod("add")
	MinusMethod = NewService().MustMethod("minus")
)

func add(_ *common.Controller, req *NumRequest, resp *NumResponse) {
	resp.Output = req.Input1 + req.Input2
}

func minus(_ *common.Controller, req *NumRequest, resp *NumResponse) {
	resp.Output = req.Input1 - req.Input2
}

// --------------------------------------------------------------------------
// Binary encoding (used by serializer.NewBinarySerializer)
// --------------------------------------------------------------------------

const (
	numRequestSize  = 16
	numResponseSize = 8
)

func (r NumRequest) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, numRequestSize)
	b = binary.BigEndian.AppendUint64(b, uint64(r.Input1))
	b = binary.BigEndian.AppendUint64(b, uint64(r.Input2))
	return b, nil
}

func (r *NumRequest) UnmarshalBinary(b []byte) error {
	if len(b) != numRequestSize {
		return fmt.Errorf("num request: expected %d bytes, got %d", numRequestSize, len(b))
	}
	r.Input1 = int64(binary.BigEndian.Uint64(b))
	r.Input2 = int64(binary.BigEndian.Uint64(b[8:]))
	return nil
}

func (r NumResponse) MarshalBinary() ([]byte, error) {
	return binary.BigEndian.AppendUint64(make([]byte, 0, numResponseSize), uint64(r.Output)), nil
}

func (r *NumResponse) UnmarshalBinary(b []byte) error {
	if len(b) != numResponseSize {
		return fmt.Errorf("num response: expected %d bytes, got %d", numResponseSize, len(b))
	}
	r.Output = int64(binary.BigEndian.Uint64(b))
	return nil
}
