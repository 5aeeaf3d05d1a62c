// Package numservice is a small demo service with two methods, add and minus.
// It is used by the drpc command line tool and by the end-to-end tests.
//
// Key Components:
//
//   - NewService: returns the service table, register it with
//     server.RpcServer.RegisterService.
//
//   - AddMethod, MinusMethod: descriptors for client calls.
//
//   - NumRequest, NumResponse: the messages. Both implement
//     encoding.BinaryMarshaler, so every serializer except proto can carry them.
package numservice
