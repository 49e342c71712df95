// Package mcp implements a JSON-RPC 2.0 client over a child process's
// standard streams, in the style of the Model Context Protocol stdio
// transport. Frames are newline-delimited UTF-8 JSON: requests carry a
// session-unique id, notifications carry none, and every request is
// answered by exactly one response with a matching id (or a timeout).
package mcp

import (
	"encoding/json"
	"fmt"
)

const (
	// JSONRPCVersion is the fixed jsonrpc field value on every frame.
	JSONRPCVersion = "2.0"
	// ProtocolVersion is the MCP protocol revision sent during the
	// initialize handshake.
	ProtocolVersion = "2024-11-05"
)

type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a failed response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ClientInfo identifies this client during the initialize handshake.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// frame is the inbound wire shape before classification. A nil ID marks a
// notification; notifications are logged and dropped, never delivered to
// a waiter.
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// ExtractText returns the first textual payload of a tool result. MCP
// servers wrap text either as {"content":[{"type":"text","text":...}]}
// or as a bare {"text":...} object; both shapes are handled, and anything
// else yields the empty string.
func ExtractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var wrapped struct {
		Text    string `json:"text"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		for _, item := range wrapped.Content {
			if item.Text != "" {
				return item.Text
			}
		}
		if wrapped.Text != "" {
			return wrapped.Text
		}
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	return ""
}
