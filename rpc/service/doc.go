// Package service describes what an RPC server can execute.
//
// A Service is a name plus an ordered method table. Callers address a method
// by (service name, method index), which is exactly what travels in the
// request envelope, so client and server must agree on the table order.
// NewMethod builds table entries from typed handlers:
//
//	svc := &service.Service{
//	    Name: "testNamespace.NumService",
//	    Methods: []service.Method{
//	        service.NewMethod("add", func(ctrl *common.Controller, req *NumRequest, resp *NumResponse) {
//	            resp.Output = req.Input1 + req.Input2
//	        }),
//	    },
//	}
//
// Servers collect services in a Builder while they are being configured.
// Starting the server consumes the builder into a Registry, which is
// immutable from then on and can be read by all business workers without
// locking.
package service
