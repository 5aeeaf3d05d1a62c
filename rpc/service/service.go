package service

import (
	"fmt"
	"github.com/ValentinKolb/dRPC/rpc/common"
)

// MethodDescriptor identifies a method on the wire: the service name and the
// position of the method in the service's method table
type MethodDescriptor struct {
	Service string
	Name    string
	Index   uint32
}

func (d *MethodDescriptor) String() string {
	return fmt.Sprintf("%s.%s[%d]", d.Service, d.Name, d.Index)
}

// HandlerFunc processes one request. It fills resp and may mark the call as
// failed through ctrl. It runs on a business worker goroutine and must not
// keep req or resp after returning.
type HandlerFunc func(ctrl *common.Controller, req, resp any)

// Method is one entry of a service's method table
type Method struct {
	Name string
	// NewRequest returns an empty request value (a pointer) to deserialize into
	NewRequest func() any
	// NewResponse returns an empty response value (a pointer) for the handler to fill
	NewResponse func() any
	Handler     HandlerFunc
}

// Service is a named, ordered table of methods. The order defines the method
// indices, so client and server must use the same table.
type Service struct {
	Name    string
	Methods []Method
}

// Method returns the descriptor of the method with the given name
func (s *Service) Method(name string) (*MethodDescriptor, bool) {
	for i, m := range s.Methods {
		if m.Name == name {
			return &MethodDescriptor{Service: s.Name, Name: m.Name, Index: uint32(i)}, true
		}
	}
	return nil, false
}

// MustMethod is like Method but panics for unknown names. Meant for package
// level descriptor variables.
func (s *Service) MustMethod(name string) *MethodDescriptor {
	md, ok := s.Method(name)
	if !ok {
		panic(fmt.Sprintf("service %s has no method %s", s.Name, name))
	}
	return md
}

// NewMethod builds a method table entry from a typed handler. Req and Resp
// are the struct types, the handler receives pointers to fresh values.
func NewMethod[Req, Resp any](name string, handler func(ctrl *common.Controller, req *Req, resp *Resp)) Method {
	return Method{
		Name:        name,
		NewRequest:  func() any { return new(Req) },
		NewResponse: func() any { return new(Resp) },
		Handler: func(ctrl *common.Controller, req, resp any) {
			handler(ctrl, req.(*Req), resp.(*Resp))
		},
	}
}

// validate checks a service before it is registered
func (s *Service) validate() error {
	if s == nil || s.Name == "" {
		return fmt.Errorf("%w: service needs a name", common.ErrInvalidArgument)
	}
	for i, m := range s.Methods {
		if m.NewRequest == nil || m.NewResponse == nil || m.Handler == nil {
			return fmt.Errorf("%w: method %d (%s) of service %s is incomplete", common.ErrInvalidArgument, i, m.Name, s.Name)
		}
	}
	return nil
}
