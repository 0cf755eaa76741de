package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FramingError reports a frame that could not be decoded as any envelope
// shape. It is fatal to the frame, not to the channel.
type FramingError struct {
	Reason string
	Frame  []byte
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("framing: %s: %v", e.Reason, e.Err)
	}
	return "framing: " + e.Reason
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// ConnectionError reports a broken channel. It is fatal to the channel; all
// pending calls on it are failed with this error.
type ConnectionError struct {
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection: %s: %v", e.Reason, e.Err)
	}
	return "connection: " + e.Reason
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// EncodeFrame serializes a message as one newline-terminated frame.
// Encoding is pure: no network or process state is touched.
func EncodeFrame(message *BaseJsonRpcMessage) ([]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, &FramingError{Reason: "encode", Err: err}
	}
	return append(data, '\n'), nil
}

// frameProbe captures just enough of a frame to classify its shape.
type frameProbe struct {
	Jsonrpc string                 `json:"jsonrpc"`
	Id      *RequestId             `json:"id"`
	Method  *string                `json:"method"`
	Result  json.RawMessage        `json:"result"`
	Error   *BaseJSONRPCErrorInner `json:"error"`
}

// DecodeFrame parses one frame into the envelope union. The shape is
// self-describing:
//
//	id + method          => request
//	id + result          => response
//	id + error           => error response
//	method, no id        => notification
//
// Structurally invalid input is rejected with a FramingError rather than
// silently dropped.
func DecodeFrame(data []byte) (*BaseJsonRpcMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, &FramingError{Reason: "empty frame"}
	}

	var probe frameProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &FramingError{Reason: "invalid JSON", Frame: data, Err: err}
	}

	switch {
	case probe.Id != nil && probe.Method != nil:
		var request BaseJSONRPCRequest
		if err := json.Unmarshal(data, &request); err != nil {
			return nil, &FramingError{Reason: "invalid request envelope", Frame: data, Err: err}
		}
		return NewBaseMessageRequest(&request), nil

	case probe.Id != nil && probe.Error != nil:
		var errResponse BaseJSONRPCError
		if err := json.Unmarshal(data, &errResponse); err != nil {
			return nil, &FramingError{Reason: "invalid error envelope", Frame: data, Err: err}
		}
		return NewBaseMessageError(&errResponse), nil

	case probe.Id != nil:
		var response BaseJSONRPCResponse
		if err := json.Unmarshal(data, &response); err != nil {
			return nil, &FramingError{Reason: "invalid response envelope", Frame: data, Err: err}
		}
		return NewBaseMessageResponse(&response), nil

	case probe.Method != nil:
		var notification BaseJSONRPCNotification
		if err := json.Unmarshal(data, &notification); err != nil {
			return nil, &FramingError{Reason: "invalid notification envelope", Frame: data, Err: err}
		}
		return NewBaseMessageNotification(&notification), nil
	}

	return nil, &FramingError{Reason: "envelope is neither request, response, error nor notification", Frame: data}
}
