// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package protocol

import (
	"errors"
	"fmt"
)

// ErrClosed is returned for every request issued after the client has
// exhausted its reconnect budget or been shut down. Only an explicit Reset
// clears it.
var ErrClosed = errors.New("protocol: client closed")

// ErrTimeout is returned when a call receives no correlated response within
// the per-call deadline. The connection stays up unless timeouts accumulate
// past the degraded threshold.
var ErrTimeout = errors.New("protocol: call timed out")

// TransportError indicates the subprocess is unreachable: spawn failure,
// broken pipe, or process exit. Recovered by the client's reconnect state
// machine up to the configured bound.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("protocol transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ToolError is an application-level failure reported by the data service for
// a specific tool. Assumed non-transient; never retried automatically.
type ToolError struct {
	Code    int
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("protocol tool error %d: %s", e.Code, e.Message)
}
