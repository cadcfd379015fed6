// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package protocol

import (
	"encoding/json"
	"fmt"
)

// jsonRPCVersion is the fixed protocol version marker on every frame.
const jsonRPCVersion = "2.0"

// rpcRequest is an outgoing JSON-RPC 2.0 request. One frame per line.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcNotification is an outgoing request without an ID; the service sends no
// response for it.
type rpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcResponse is an incoming JSON-RPC 2.0 response frame.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is the error member of a response frame.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// encodeRequest marshals a request frame. The caller appends the newline.
func encodeRequest(id uint64, method string, params any) ([]byte, error) {
	frame, err := json.Marshal(rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", method, err)
	}
	return frame, nil
}

// encodeNotification marshals a notification frame.
func encodeNotification(method string, params any) ([]byte, error) {
	frame, err := json.Marshal(rpcNotification{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding %s notification: %w", method, err)
	}
	return frame, nil
}

// decodeFrame parses one stdout line as a response. Data services are known
// to interleave log lines with protocol frames on stdout, so anything that
// is not a JSON-RPC response is reported as skippable rather than an error.
func decodeFrame(line []byte) (*rpcResponse, bool) {
	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, false
	}
	if resp.JSONRPC != jsonRPCVersion {
		return nil, false
	}
	return &resp, true
}
