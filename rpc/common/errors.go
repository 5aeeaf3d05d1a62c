package common

import "errors"

// Errors delivered to callers through the Controller of a call. Use errors.Is
// to test for them, most are wrapped with additional context.
var (
	ErrInvalidArgument  = errors.New("rpc: invalid argument")
	ErrClientNotStarted = errors.New("rpc: client not started")
	ErrClientClosed     = errors.New("rpc: client closed")
	ErrQueueFull        = errors.New("rpc: task queue full")
	ErrConnIDExhausted  = errors.New("rpc: connection id not enough")
	ErrCallIDExhausted  = errors.New("rpc: call id not enough")
	ErrSerialize        = errors.New("rpc: failed to serialize request")
	ErrDeserialize      = errors.New("rpc: failed to deserialize response")
	ErrConnectFailed    = errors.New("rpc: failed to connect")
	ErrConnectionLost   = errors.New("rpc: connection lost")
	ErrConnectionClosed = errors.New("rpc: connection closed")
	ErrHeartbeatTimeout = errors.New("rpc: heartbeat timeout")
	ErrCallTimeout      = errors.New("rpc: call timed out")
	ErrRemote           = errors.New("rpc: remote handler failed")
)

// Errors reported back to clients by servers with ReportErrors enabled
var (
	ErrDeserializeRequest = errors.New("rpc: failed to deserialize request")
	ErrSerializeResponse  = errors.New("rpc: failed to serialize response")
)

// Errors returned by server lifecycle and registration methods
var (
	ErrAlreadyStarted   = errors.New("rpc: server already started")
	ErrDuplicateService = errors.New("rpc: service already registered")
	ErrRegistryFrozen   = errors.New("rpc: registry is frozen")
)
