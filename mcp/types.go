package mcp

import (
	"encoding/json"
)

// LatestProtocolVersion is the protocol revision offered during the
// handshake.
const LatestProtocolVersion = "2025-06-18"

// Wire methods consumed and produced by this client.
const (
	MethodInitialize      = "initialize"
	MethodNotifyInit      = "notifications/initialized"
	MethodToolsList       = "tools/list"
	MethodToolsCall       = "tools/call"
	MethodResourcesList   = "resources/list"
	MethodResourcesRead   = "resources/read"
	MethodSamplingCreate  = "sampling/createMessage"
	MethodNotifyCancelled = "notifications/cancelled"
)

// Implementation identifies one side of a session.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams is sent in the handshake request.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// InitializeResult is the peer's half of the capability negotiation. It is
// stored read-only for the lifetime of the session.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ServerInfo      Implementation `json:"serverInfo"`
}

// ToolDescriptor describes one invocable tool discovered from the peer.
// Immutable once discovered; the registry snapshot is rebuilt, never
// patched.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ResourceDescriptor describes one readable resource exposed by the peer.
type ResourceDescriptor struct {
	URI      string `json:"uri"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type listToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

type listResourcesResult struct {
	Resources []ResourceDescriptor `json:"resources"`
}

// Content is one item of a tool or sampling result.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// NewTextContent creates a text content item.
func NewTextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// CallToolParams is sent in a tool invocation request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// CallToolResult is the peer's reply to a tool invocation. IsError marks a
// tool-level failure the peer chose to report as data rather than as a
// protocol error.
type CallToolResult struct {
	Content           []Content      `json:"content,omitempty"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
}

// TextContent joins the text items of the result.
func (r *CallToolResult) TextContent() string {
	var out string
	for _, c := range r.Content {
		if c.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += c.Text
		}
	}
	return out
}

// ResourceContents is one block of a read resource.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

type readResourceParams struct {
	URI string `json:"uri"`
}

// ReadResourceResult is the peer's reply to a resource read. Reads are
// idempotent from the caller's perspective but may return time-varying
// content.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// SamplingMessage is one transcript entry in a sampling request.
type SamplingMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// CreateMessageParams is the peer asking this side's model for a completion.
type CreateMessageParams struct {
	Messages      []SamplingMessage `json:"messages"`
	SystemPrompt  string            `json:"systemPrompt,omitempty"`
	MaxTokens     int               `json:"maxTokens,omitempty"`
	Temperature   float64           `json:"temperature,omitempty"`
	StopSequences []string          `json:"stopSequences,omitempty"`
}

// CreateMessageResult carries the completion back to the peer.
type CreateMessageResult struct {
	Role       string  `json:"role"`
	Content    Content `json:"content"`
	Model      string  `json:"model,omitempty"`
	StopReason string  `json:"stopReason,omitempty"`
}
