// Package transport defines the wire-level envelope types for the JSON-RPC
// protocol and the Transport contract implemented by concrete channels.
//
// An envelope is one of four shapes:
//   - Request: has an Id and a Method, expects a matching Response or Error.
//   - Response: carries the originating Id and a Result payload.
//   - Error: carries the originating Id and an error object.
//   - Notification: has a Method but no Id, expects no reply.
//
// The package is a pure framing layer: encoding and decoding touch no process
// or network state. Correlation of Requests to Responses is the protocol
// layer's job, not the transport's.
package transport

import (
	"context"
	"encoding/json"
)

// RequestId is the correlation identifier linking a Request to its Response.
// It is unique per channel among outstanding calls.
type RequestId int64

// JsonRpcBody is a result payload returned by a request handler.
type JsonRpcBody any

// BaseJSONRPCRequest is an outgoing or incoming request envelope.
type BaseJSONRPCRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      RequestId       `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// BaseJSONRPCNotification is a one-way message that expects no reply.
type BaseJSONRPCNotification struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// BaseJSONRPCResponse is a successful reply to a request.
type BaseJSONRPCResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      RequestId       `json:"id"`
	Result  json.RawMessage `json:"result"`
}

// BaseJSONRPCErrorInner is the error object carried by an error response.
type BaseJSONRPCErrorInner struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// BaseJSONRPCError is an error reply to a request.
type BaseJSONRPCError struct {
	Jsonrpc string                `json:"jsonrpc"`
	Id      RequestId             `json:"id"`
	Error   BaseJSONRPCErrorInner `json:"error"`
}

// Standard JSON-RPC error codes. Codes outside this closed set belong to the
// peer-defined range.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// BaseMessageType tags the variant held by a BaseJsonRpcMessage.
type BaseMessageType string

const (
	BaseMessageTypeJSONRPCRequestType      BaseMessageType = "request"
	BaseMessageTypeJSONRPCNotificationType BaseMessageType = "notification"
	BaseMessageTypeJSONRPCResponseType     BaseMessageType = "response"
	BaseMessageTypeJSONRPCErrorType        BaseMessageType = "error"
)

// BaseJsonRpcMessage is the tagged union over the four envelope shapes.
// Exactly one of the pointer fields is set, matching Type.
type BaseJsonRpcMessage struct {
	Type                BaseMessageType
	JsonRpcRequest      *BaseJSONRPCRequest
	JsonRpcNotification *BaseJSONRPCNotification
	JsonRpcResponse     *BaseJSONRPCResponse
	JsonRpcError        *BaseJSONRPCError
}

// NewBaseMessageRequest wraps a request envelope.
func NewBaseMessageRequest(request *BaseJSONRPCRequest) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:           BaseMessageTypeJSONRPCRequestType,
		JsonRpcRequest: request,
	}
}

// NewBaseMessageNotification wraps a notification envelope.
func NewBaseMessageNotification(notification *BaseJSONRPCNotification) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:                BaseMessageTypeJSONRPCNotificationType,
		JsonRpcNotification: notification,
	}
}

// NewBaseMessageResponse wraps a response envelope.
func NewBaseMessageResponse(response *BaseJSONRPCResponse) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:            BaseMessageTypeJSONRPCResponseType,
		JsonRpcResponse: response,
	}
}

// NewBaseMessageError wraps an error envelope.
func NewBaseMessageError(errResponse *BaseJSONRPCError) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:         BaseMessageTypeJSONRPCErrorType,
		JsonRpcError: errResponse,
	}
}

// MarshalJSON emits the inner envelope, not the union wrapper.
func (m *BaseJsonRpcMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return json.Marshal(m.JsonRpcRequest)
	case BaseMessageTypeJSONRPCNotificationType:
		return json.Marshal(m.JsonRpcNotification)
	case BaseMessageTypeJSONRPCResponseType:
		return json.Marshal(m.JsonRpcResponse)
	case BaseMessageTypeJSONRPCErrorType:
		return json.Marshal(m.JsonRpcError)
	}
	return nil, &FramingError{Reason: "unknown message type: " + string(m.Type)}
}

// UnmarshalJSON decodes a frame via DecodeFrame.
func (m *BaseJsonRpcMessage) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeFrame(data)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}

// Transport is a bidirectional channel carrying JSON-RPC messages.
// Implementations deliver inbound messages to the handler installed with
// SetMessageHandler in receipt order, and write outbound frames atomically
// relative to each other.
type Transport interface {
	// Start begins processing messages. For channel transports this spawns
	// the peer process and the read loop.
	Start(ctx context.Context) error

	// Send transmits one message. A full frame is written atomically
	// relative to other senders.
	Send(ctx context.Context, message *BaseJsonRpcMessage) error

	// Close terminates the connection. It is idempotent and releases all
	// underlying resources on every exit path.
	Close() error

	// SetCloseHandler sets the callback invoked when the connection is
	// closed for any reason, including Close itself.
	SetCloseHandler(handler func())

	// SetErrorHandler sets the callback for out-of-band errors. Errors are
	// not necessarily fatal to the channel.
	SetErrorHandler(handler func(error))

	// SetMessageHandler sets the callback for every received message.
	SetMessageHandler(handler func(ctx context.Context, message *BaseJsonRpcMessage))
}
