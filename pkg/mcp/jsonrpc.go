package mcp

import "encoding/json"

const jsonRPCVersion = "2.0"

// protocolVersion is the adapter control protocol version announced during
// the mcp.initialize handshake.
const protocolVersion = "1.0"

// Control methods of the adapter protocol. Tool invocations use the bare
// tool name as the JSON-RPC method; everything host-level goes through mcp.*.
const (
	methodInitialize    = "mcp.initialize"
	methodListTools     = "mcp.list_tools"
	methodListResources = "mcp.list_resources"
	methodListPrompts   = "mcp.list_prompts"
	methodPing          = "mcp.ping"
	methodSubscribe     = "mcp.subscribe"
	methodUnsubscribe   = "mcp.unsubscribe"
	methodShutdown      = "mcp.shutdown"

	// methodEvent is the notification an adapter emits on the stdio transport
	// to deliver one subscription event.
	methodEvent = "mcp.event"
)

// rpcRequest is an outgoing JSON-RPC 2.0 request frame.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// rpcFrame is an incoming frame: a response when ID is set, a notification
// when only Method is.
type rpcFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcErrorBody   `json:"error,omitempty"`
}

// rpcErrorBody is the JSON-RPC 2.0 error object.
type rpcErrorBody struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// eventNotification is the params payload of an mcp.event notification.
type eventNotification struct {
	SubscriptionID string          `json:"subscription_id"`
	ID             string          `json:"id,omitempty"`
	Type           string          `json:"type,omitempty"`
	Data           json.RawMessage `json:"data"`
}

// subscribeParams is the body of mcp.subscribe and of POST /subscribe.
type subscribeParams struct {
	Resource       string         `json:"resource"`
	Params         map[string]any `json:"params"`
	SubscriptionID string         `json:"subscription_id"`
}

// statusResult is the minimal result shape of control calls that answer
// with {"status": ...}.
type statusResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// retryableRPCCode reports whether an adapter error code marks a transient
// condition. JSON-RPC reserves -32000..-32099 for server-defined errors and
// adapters use that band for rate limits and upstream hiccups; protocol
// errors (-32600 family) and application codes are final.
func retryableRPCCode(code int) bool {
	return code <= -32000 && code >= -32099
}
