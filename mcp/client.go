// Package mcp implements the client side of a tool-invocation session: the
// initialization handshake, discovery of the peer's tools and resources,
// and typed invocation on top of the protocol dispatcher.
package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolbridge/mcp/protocol"
	"github.com/effective-security/toolbridge/mcp/transport"
	"github.com/effective-security/toolbridge/pkg/metricskey"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolbridge/mcp", "mcp")

type sessionState int32

const (
	stateUninitialized sessionState = iota
	stateInitializing
	stateInitialized
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateUninitialized:
		return "uninitialized"
	case stateInitializing:
		return "initializing"
	case stateInitialized:
		return "initialized"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// SamplingHandler serves a model-completion request issued by the peer
// while one of its tools is running.
type SamplingHandler func(ctx context.Context, params *CreateMessageParams) (*CreateMessageResult, error)

// Client drives one session with a tool peer. All methods are safe for
// concurrent use; invocations multiplex over a single connection.
type Client struct {
	protocol *protocol.Protocol
	tr       transport.Transport

	clientInfo      Implementation
	protocolVersion string

	mu         sync.RWMutex
	state      sessionState
	serverInfo *InitializeResult
	registry   *registry
	sampling   SamplingHandler
}

// Option customizes a Client.
type Option func(*Client)

// WithClientInfo sets the name and version reported in the handshake.
func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		c.clientInfo = Implementation{Name: name, Version: version}
	}
}

// WithProtocolVersion overrides the protocol revision offered in the
// handshake.
func WithProtocolVersion(version string) Option {
	return func(c *Client) {
		c.protocolVersion = version
	}
}

// WithRetry sets the session-wide retry policy for requests.
func WithRetry(policy protocol.RetryPolicy) Option {
	return func(c *Client) {
		c.protocol = protocol.NewProtocol(&protocol.ProtocolOptions{Retry: policy})
	}
}

// NewClient creates a client over the given transport. The session is not
// usable until Initialize succeeds.
func NewClient(tr transport.Transport, opts ...Option) *Client {
	c := &Client{
		protocol:        protocol.NewProtocol(nil),
		tr:              tr,
		clientInfo:      Implementation{Name: "toolbridge", Version: "1.0.0"},
		protocolVersion: LatestProtocolVersion,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.protocol.SetRequestHandler(MethodSamplingCreate, c.handleSampling)
	return c
}

// Initialize connects the transport and performs the handshake: the
// initialize request, then the initialized notification. It is the only
// operation permitted on a fresh session; every other call made before it
// completes fails with SequenceError.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	c.mu.Lock()
	if c.state != stateUninitialized {
		state := c.state
		c.mu.Unlock()
		return nil, errors.WithStack(&SequenceError{Op: MethodInitialize, State: state.String()})
	}
	c.state = stateInitializing
	c.mu.Unlock()

	if err := c.protocol.Connect(ctx, c.tr); err != nil {
		// The transport never started; the session may be retried.
		c.mu.Lock()
		c.state = stateUninitialized
		c.mu.Unlock()
		return nil, errors.WithMessage(err, "failed to connect transport")
	}

	// Past this point the transport is live. A failed handshake closes the
	// session for good; retrying against a half-started channel would only
	// surface the transport's own start errors.
	fail := func(err error) (*InitializeResult, error) {
		c.mu.Lock()
		c.state = stateClosed
		c.mu.Unlock()
		_ = c.protocol.Close()
		return nil, err
	}

	params := InitializeParams{
		ProtocolVersion: c.protocolVersion,
		Capabilities:    map[string]any{"sampling": map[string]any{}},
		ClientInfo:      c.clientInfo,
	}
	raw, err := c.protocol.Request(ctx, MethodInitialize, params, nil)
	if err != nil {
		return fail(errors.WithMessage(err, "initialize request failed"))
	}
	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fail(errors.WithMessage(err, "failed to parse initialize result"))
	}
	if err := c.protocol.Notification(MethodNotifyInit, nil); err != nil {
		return fail(errors.WithMessage(err, "failed to send initialized notification"))
	}

	c.mu.Lock()
	c.serverInfo = &result
	c.state = stateInitialized
	c.mu.Unlock()

	logger.KV(xlog.DEBUG,
		"reason", "session_initialized",
		"server", result.ServerInfo.Name,
		"version", result.ProtocolVersion)
	return &result, nil
}

// ensureInitialized gates every post-handshake operation.
func (c *Client) ensureInitialized(op string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != stateInitialized {
		return errors.WithStack(&SequenceError{Op: op, State: c.state.String()})
	}
	return nil
}

// ServerInfo returns the peer's handshake result, or nil before Initialize.
func (c *Client) ServerInfo() *InitializeResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Discover fetches the peer's tool and resource listings and installs them
// as the new registry snapshot. The swap is all-or-nothing: if either
// listing fails, the previous snapshot stays in place.
func (c *Client) Discover(ctx context.Context) error {
	if err := c.ensureInitialized("discover"); err != nil {
		return err
	}

	rawTools, err := c.protocol.Request(ctx, MethodToolsList, struct{}{}, nil)
	if err != nil {
		return errors.WithMessage(err, "failed to list tools")
	}
	var tools listToolsResult
	if err := json.Unmarshal(rawTools, &tools); err != nil {
		return errors.WithMessage(err, "failed to parse tools listing")
	}

	rawResources, err := c.protocol.Request(ctx, MethodResourcesList, struct{}{}, nil)
	var resources listResourcesResult
	if err != nil {
		// Peers without resource support reject the method; treat that as
		// an empty listing rather than a failed discovery.
		var rpcErr *protocol.RPCError
		if !errors.As(err, &rpcErr) || rpcErr.Code != transport.ErrCodeMethodNotFound {
			return errors.WithMessage(err, "failed to list resources")
		}
	} else if err := json.Unmarshal(rawResources, &resources); err != nil {
		return errors.WithMessage(err, "failed to parse resources listing")
	}

	c.mu.Lock()
	c.registry = newRegistry(tools.Tools, resources.Resources)
	c.mu.Unlock()

	logger.KV(xlog.DEBUG,
		"reason", "discovered",
		"tools", len(tools.Tools),
		"resources", len(resources.Resources))
	return nil
}

// Tools returns the tools of the current registry snapshot.
func (c *Client) Tools() []ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.registry == nil {
		return nil
	}
	return c.registry.tools
}

// Resources returns the resources of the current registry snapshot.
func (c *Client) Resources() []ResourceDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.registry == nil {
		return nil
	}
	return c.registry.resources
}

// ResolveTool returns the descriptor for the named tool, or NotFoundError
// if the current snapshot does not contain it.
func (c *Client) ResolveTool(name string) (*ToolDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.registry.tool(name); ok {
		return t, nil
	}
	metricskey.StatsToolCallsNotFound.IncrCounter(1, name)
	return nil, errors.WithStack(&NotFoundError{Kind: "tool", Name: name})
}

// CallTool invokes the named tool. The name is resolved against the
// registry first: unknown names fail locally with NotFoundError and no
// frame is sent. A peer-reported tool failure is returned as
// ToolExecutionError alongside the result that carries the failure
// content.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	return c.CallToolWithOptions(ctx, name, args, nil)
}

// CallToolWithOptions is CallTool with per-request protocol options.
func (c *Client) CallToolWithOptions(ctx context.Context, name string, args map[string]any, opts *protocol.RequestOptions) (*CallToolResult, error) {
	if err := c.ensureInitialized(MethodToolsCall); err != nil {
		return nil, err
	}
	if _, err := c.ResolveTool(name); err != nil {
		return nil, err
	}

	started := time.Now()
	raw, err := c.protocol.Request(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: args}, opts)
	metricskey.PerfToolCall.MeasureSince(started, name)
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
		return nil, errors.WithMessagef(err, "failed to call tool %q", name)
	}

	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
		return nil, errors.WithMessagef(err, "failed to parse result of tool %q", name)
	}
	if result.IsError {
		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
		return &result, errors.WithStack(&ToolExecutionError{
			Tool:    name,
			Message: result.TextContent(),
		})
	}
	metricskey.StatsToolCallsSucceeded.IncrCounter(1, name)
	return &result, nil
}

// ReadResource reads the resource with the given URI. The URI is resolved
// against the registry first; unknown URIs fail locally with
// NotFoundError.
func (c *Client) ReadResource(ctx context.Context, uri string) (*ReadResourceResult, error) {
	if err := c.ensureInitialized(MethodResourcesRead); err != nil {
		return nil, err
	}
	c.mu.RLock()
	_, ok := c.registry.resource(uri)
	c.mu.RUnlock()
	if !ok {
		return nil, errors.WithStack(&NotFoundError{Kind: "resource", Name: uri})
	}

	raw, err := c.protocol.Request(ctx, MethodResourcesRead, readResourceParams{URI: uri}, nil)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to read resource %q", uri)
	}
	var result ReadResourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, errors.WithMessagef(err, "failed to parse resource %q", uri)
	}
	return &result, nil
}

// SetSamplingHandler installs the handler for the peer's
// sampling/createMessage requests. A nil handler removes it; requests
// arriving with no handler installed are rejected with a method-not-found
// error.
func (c *Client) SetSamplingHandler(handler SamplingHandler) {
	c.mu.Lock()
	c.sampling = handler
	c.mu.Unlock()
}

func (c *Client) handleSampling(ctx context.Context, request *transport.BaseJSONRPCRequest, _ protocol.RequestHandlerExtra) (transport.JsonRpcBody, error) {
	c.mu.RLock()
	handler := c.sampling
	c.mu.RUnlock()
	if handler == nil {
		return nil, errors.WithStack(&protocol.RPCError{
			Method:  request.Method,
			ID:      request.Id,
			Code:    transport.ErrCodeMethodNotFound,
			Message: "no sampling handler installed",
		})
	}
	var params CreateMessageParams
	if len(request.Params) > 0 {
		if err := json.Unmarshal(request.Params, &params); err != nil {
			return nil, errors.WithStack(&protocol.RPCError{
				Method:  request.Method,
				ID:      request.Id,
				Code:    transport.ErrCodeInvalidParams,
				Message: "failed to parse sampling params",
			})
		}
	}
	return handler(ctx, &params)
}

// InFlight reports the number of requests awaiting a reply.
func (c *Client) InFlight() int {
	return c.protocol.InFlight()
}

// Close shuts the session down. Pending calls fail with a connection
// error; the client cannot be reused.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	c.mu.Unlock()
	return c.protocol.Close()
}
