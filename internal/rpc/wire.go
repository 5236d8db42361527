// Package rpc implements the control plane: JSON-RPC 2.0 (spec.md §4.6)
// over a unix SOCK_STREAM socket, one JSON object per accepted connection.
// Grounded on the teacher's internal/server.Server lifecycle shape
// (Config/Flags/New/Serve/Stop/GracefulStop), adapted from gRPC-over-TCP+TLS
// to JSON-RPC-over-unix-socket since spec.md §4.6 fixes the wire protocol.
package rpc

import (
	"encoding/json"
	"fmt"
)

// MaxMessageSize is the largest accepted request, per spec.md §4.6's wire
// format note ("the maximum message length is 32 KiB").
const MaxMessageSize = 32 * 1024

// MethodWatch is the one method exempt from spec.md §4.6's fixed
// one-request-per-connection rule: instead of a single Response, the
// connection stays open and receives a Response per job state change
// (see DESIGN.md's internal/rpc entry) until the caller disconnects.
const MethodWatch = "watch"

// Version is the only accepted jsonrpc version string.
const Version = "2.0"

// Request is a parsed JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result or
// Error is set, matching spec.md §4.6's "`{…,"result":…}` or
// `{…,"error":…}`".
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *WireError      `json:"error,omitempty"`
}

// WireError is the JSON-RPC 2.0 error object.
type WireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// knownRequestKeys is used only to detect unknown top-level keys: decoding twice
// (once into Request, once into a map) is cheaper than writing a hand-rolled
// tokenizer, and spec.md §4.6 only requires rejection, not a specific
// mechanism.
var knownRequestKeys = map[string]bool{
	"jsonrpc": true,
	"id":      true,
	"method":  true,
	"params":  true,
}

// ParseRequest decodes and validates a single JSON-RPC request per spec.md
// §4.6's parsing rules: the version field must equal "2.0"; id and method
// are required; unknown top-level keys are rejected; the message must not
// exceed MaxMessageSize.
func ParseRequest(msg []byte) (*Request, error) {
	if len(msg) > MaxMessageSize {
		return nil, newWireErr(CodeInvalidRequest, fmt.Sprintf("message exceeds %d bytes", MaxMessageSize))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil {
		return nil, newWireErr(CodeParseError, "malformed JSON: "+err.Error())
	}
	for key := range fields {
		if !knownRequestKeys[key] {
			return nil, newWireErr(CodeInvalidRequest, "unknown field "+key)
		}
	}

	var req Request
	if err := json.Unmarshal(msg, &req); err != nil {
		return nil, newWireErr(CodeParseError, "malformed JSON: "+err.Error())
	}
	if req.JSONRPC != Version {
		return nil, newWireErr(CodeInvalidRequest, `jsonrpc field must equal "2.0"`)
	}
	if len(req.ID) == 0 {
		return nil, newWireErr(CodeInvalidRequest, "id is required")
	}
	if req.Method == "" {
		return nil, newWireErr(CodeInvalidRequest, "method is required")
	}
	return &req, nil
}

// Success builds a Response carrying result for id.
func Success(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// Failure builds a Response carrying a JSON-RPC error for id. id may be nil
// when the request itself could not be parsed far enough to recover an id.
func Failure(id json.RawMessage, code int, message string) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: &WireError{Code: code, Message: message}}
}
