package common

import (
	"errors"
	"sync"
)

// Controller carries the outcome of one call. On the client it is the sink
// every failure is reported to, on the server a handler can mark the call as
// failed and the reason travels back to the caller.
//
// A Controller can be reused for several sequential calls, CallMethod resets it.
type Controller struct {
	mu     sync.Mutex
	err    error
	reason string
}

// NewController creates a controller in the not-failed state
func NewController() *Controller {
	return &Controller{}
}

// Reset clears a previous failure
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = nil
	c.reason = ""
}

// Failed reports whether the call failed
func (c *Controller) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err != nil
}

// ErrorText returns a human readable reason for the failure, or "" if the
// call did not fail
func (c *Controller) ErrorText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// SetFailed marks the call as failed with a free text reason
func (c *Controller) SetFailed(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = errors.New(reason)
	c.reason = reason
}

// Fail marks the call as failed with err. The first failure wins.
func (c *Controller) Fail(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	c.reason = err.Error()
}

// Err returns the failure as an error, or nil
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}
