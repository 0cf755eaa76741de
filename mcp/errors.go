package mcp

import "fmt"

// SequenceError reports an operation attempted before the handshake
// completed, or a handshake attempted twice.
type SequenceError struct {
	Op    string
	State string
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("sequence: %s not allowed in state %s", e.Op, e.State)
}

// NotFoundError reports a tool or resource name that is absent from the
// registry snapshot. No request frame is sent for such a name.
type NotFoundError struct {
	Kind string // "tool" or "resource"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

// ToolExecutionError reports a tool-level failure: the peer ran the tool
// and the tool itself failed. The invocation succeeded at the protocol
// level, so this is never retried by the dispatcher.
type ToolExecutionError struct {
	Tool    string
	Message string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}
