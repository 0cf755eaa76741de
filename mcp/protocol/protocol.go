// Package protocol implements the correlation layer of the JSON-RPC runtime
// on top of a pluggable transport: request/response linking, timeouts with
// retry, notifications, progress tracking and request cancellation.
//
// A Protocol instance is the sole demultiplexer for its transport. Every
// outbound request registers a pending call keyed by its correlation id;
// a single message handler routes each inbound frame to the pending call,
// request handler or notification handler waiting for it, regardless of
// arrival order. Many calls may be in flight concurrently on one channel.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolbridge/mcp/transport"
	"github.com/effective-security/toolbridge/pkg/metricskey"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolbridge/mcp", "protocol")

const (
	// DefaultRequestTimeout applies when RequestOptions.Timeout is not set.
	DefaultRequestTimeout = 60 * time.Second
	// DefaultMaxAttempts bounds timeout-driven retries, the first attempt included.
	DefaultMaxAttempts = 3
	// DefaultBaseBackoff is the delay before the first retry; it doubles on
	// each subsequent attempt.
	DefaultBaseBackoff = 250 * time.Millisecond
)

// TimeoutError reports a request that received no reply within its deadline
// on any attempt. It carries enough context to diagnose the failure without
// inspecting dispatcher internals.
type TimeoutError struct {
	Method   string
	ID       transport.RequestId
	Attempts int
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %q (id %d) timed out after %v, attempts %d", e.Method, e.ID, e.Timeout, e.Attempts)
}

// RPCError is an error response returned by the peer. It is never retried:
// re-invoking an operation that reported a semantic error is not generally
// safe.
type RPCError struct {
	Method  string
	ID      transport.RequestId
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("request %q (id %d) failed: RPC error %d: %s", e.Method, e.ID, e.Code, e.Message)
}

// Progress represents a progress update
type Progress struct {
	Progress int64 `json:"progress"`
	Total    int64 `json:"total"`
}

// ProgressCallback is a callback for progress notifications
type ProgressCallback func(progress Progress)

// RetryPolicy controls retry of timed-out requests. Only timeout and
// transport failures are retried; peer-reported errors are not.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, the first one included.
	MaxAttempts int
	// BaseBackoff is the delay before the second attempt; each further
	// attempt doubles it.
	BaseBackoff time.Duration
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = DefaultBaseBackoff
	}
	return p
}

// backoff returns the delay to wait after the given failed attempt,
// doubling with each attempt.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	return p.BaseBackoff << (attempt - 1)
}

// ProtocolOptions contains additional initialization options
type ProtocolOptions struct {
	// Retry applies to every request unless overridden per request.
	Retry RetryPolicy
}

// RequestOptions contains options that can be given per request
type RequestOptions struct {
	// OnProgress is called when progress notifications are received from the remote end
	OnProgress ProgressCallback
	// Context can be used to cancel an in-flight request
	Context context.Context
	// Timeout specifies a per-attempt deadline. If not specified,
	// DefaultRequestTimeout is used.
	Timeout time.Duration
	// Retry overrides the protocol-level policy for this request.
	Retry *RetryPolicy
}

// RequestHandlerExtra contains extra data given to request handlers
type RequestHandlerExtra struct {
	// Context used to communicate if the request was cancelled from the sender's side
	Context context.Context
}

// RequestHandler serves an inbound request from the peer, such as a
// sampling request.
type RequestHandler func(ctx context.Context, request *transport.BaseJSONRPCRequest, extra RequestHandlerExtra) (transport.JsonRpcBody, error)

// NotificationHandler serves an inbound one-way message.
type NotificationHandler func(notification *transport.BaseJSONRPCNotification) error

// Protocol implements protocol framing on top of a pluggable transport,
// including request/response linking, notifications, and progress.
type Protocol struct {
	transport transport.Transport
	retry     RetryPolicy

	requestMessageID transport.RequestId
	mu               sync.RWMutex

	// Maps method name to request handler
	requestHandlers map[string]RequestHandler
	// Maps request ID to cancellation function
	requestCancellers map[transport.RequestId]context.CancelFunc
	// Maps method name to notification handler
	notificationHandlers map[string]NotificationHandler
	// Maps message ID to the pending call's completion slot
	responseHandlers map[transport.RequestId]chan *responseEnvelope
	// Maps message ID to progress handler
	progressHandlers map[transport.RequestId]ProgressCallback

	// Callback for when the connection is closed for any reason
	OnClose func()
	// Callback for when an error occurs
	OnError func(error)
}

// responseEnvelope is the result-or-error completion slot of a pending
// call; it is set exactly once.
type responseEnvelope struct {
	response json.RawMessage
	err      error
}

// NewProtocol creates a new Protocol instance
func NewProtocol(options *ProtocolOptions) *Protocol {
	var retry RetryPolicy
	if options != nil {
		retry = options.Retry
	}
	p := &Protocol{
		retry:                retry.normalize(),
		requestHandlers:      make(map[string]RequestHandler),
		requestCancellers:    make(map[transport.RequestId]context.CancelFunc),
		notificationHandlers: make(map[string]NotificationHandler),
		responseHandlers:     make(map[transport.RequestId]chan *responseEnvelope),
		progressHandlers:     make(map[transport.RequestId]ProgressCallback),
	}

	// Set up default handlers
	p.SetNotificationHandler("notifications/cancelled", p.handleCancelledNotification)
	p.SetNotificationHandler("$/progress", p.handleProgressNotification)

	return p
}

// Connect attaches to the given transport, starts it, and starts listening for messages
func (p *Protocol) Connect(ctx context.Context, tr transport.Transport) error {
	p.transport = tr

	tr.SetCloseHandler(func() {
		p.handleClose()
	})

	tr.SetErrorHandler(func(err error) {
		p.handleError(err)
	})

	tr.SetMessageHandler(func(ctx context.Context, message *transport.BaseJsonRpcMessage) {
		switch message.Type {
		case transport.BaseMessageTypeJSONRPCRequestType:
			p.handleRequest(ctx, message.JsonRpcRequest)
		case transport.BaseMessageTypeJSONRPCNotificationType:
			p.handleNotification(message.JsonRpcNotification)
		case transport.BaseMessageTypeJSONRPCResponseType:
			p.handleResponse(message.JsonRpcResponse, nil)
		case transport.BaseMessageTypeJSONRPCErrorType:
			p.handleResponse(nil, message.JsonRpcError)
		}
	})

	return tr.Start(ctx)
}

// handleClose fails every pending call: a broken channel is fatal to all of
// them, not just the one that observed it.
func (p *Protocol) handleClose() {
	p.mu.Lock()

	for _, cancel := range p.requestCancellers {
		cancel()
	}

	for id, ch := range p.responseHandlers {
		ch <- &responseEnvelope{err: &transport.ConnectionError{Reason: "connection closed"}}
		close(ch)
		delete(p.responseHandlers, id)
	}

	onClose := p.OnClose

	p.requestHandlers = make(map[string]RequestHandler)
	p.notificationHandlers = make(map[string]NotificationHandler)
	p.responseHandlers = make(map[transport.RequestId]chan *responseEnvelope)
	p.progressHandlers = make(map[transport.RequestId]ProgressCallback)
	p.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

func (p *Protocol) handleError(err error) {
	if p.OnError != nil {
		p.OnError(err)
	}
}

func (p *Protocol) handleNotification(notification *transport.BaseJSONRPCNotification) {
	logger.KV(xlog.DEBUG, "method", notification.Method)

	p.mu.RLock()
	handler := p.notificationHandlers[notification.Method]
	p.mu.RUnlock()

	if handler == nil {
		return
	}

	go func() {
		if err := handler(notification); err != nil {
			p.handleError(errors.WithMessage(err, "notification handler error"))
		}
	}()
}

func (p *Protocol) handleRequest(ctx context.Context, request *transport.BaseJSONRPCRequest) {
	logger.KV(xlog.DEBUG,
		"method", request.Method,
		"id", request.Id,
	)

	p.mu.RLock()
	handler := p.requestHandlers[request.Method]
	p.mu.RUnlock()

	if handler == nil {
		handler = func(ctx context.Context, req *transport.BaseJSONRPCRequest, extra RequestHandlerExtra) (transport.JsonRpcBody, error) {
			return nil, &RPCError{
				Method:  req.Method,
				ID:      req.Id,
				Code:    transport.ErrCodeMethodNotFound,
				Message: "method not found: " + req.Method,
			}
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.requestCancellers[request.Id] = cancel
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			delete(p.requestCancellers, request.Id)
			p.mu.Unlock()
			cancel()
		}()

		result, err := handler(ctx, request, RequestHandlerExtra{Context: ctx})
		if err != nil {
			logger.KV(xlog.DEBUG, "method", request.Method, "id", request.Id, "err", err.Error())
			p.sendErrorResponse(request.Id, err)
			return
		}

		jsonResult, err := json.Marshal(result)
		if err != nil {
			p.sendErrorResponse(request.Id, errors.Wrap(err, "failed to marshal result"))
			return
		}
		response := &transport.BaseJSONRPCResponse{
			Jsonrpc: "2.0",
			Id:      request.Id,
			Result:  jsonResult,
		}

		if err := p.transport.Send(ctx, transport.NewBaseMessageResponse(response)); err != nil {
			p.handleError(errors.WithMessage(err, "failed to send response"))
		}
	}()
}

func (p *Protocol) handleProgressNotification(notification *transport.BaseJSONRPCNotification) error {
	var params struct {
		Progress      int64               `json:"progress"`
		Total         int64               `json:"total"`
		ProgressToken transport.RequestId `json:"progressToken"`
	}

	if err := json.Unmarshal(notification.Params, &params); err != nil {
		return errors.Wrap(err, "failed to unmarshal progress params")
	}

	p.mu.RLock()
	handler := p.progressHandlers[params.ProgressToken]
	p.mu.RUnlock()

	if handler != nil {
		handler(Progress{
			Progress: params.Progress,
			Total:    params.Total,
		})
	}

	return nil
}

func (p *Protocol) handleCancelledNotification(notification *transport.BaseJSONRPCNotification) error {
	var params struct {
		RequestId transport.RequestId `json:"requestId"`
		Reason    string              `json:"reason"`
	}

	if err := json.Unmarshal(notification.Params, &params); err != nil {
		return errors.Wrap(err, "failed to unmarshal cancelled params")
	}

	p.mu.RLock()
	cancel := p.requestCancellers[params.RequestId]
	p.mu.RUnlock()

	if cancel != nil {
		cancel()
	}

	return nil
}

// handleResponse completes the pending call sharing the response id. A
// response that matches no pending call is orphaned, typically the late
// reply to a call that already timed out, and is discarded.
func (p *Protocol) handleResponse(response *transport.BaseJSONRPCResponse, errResp *transport.BaseJSONRPCError) {
	var id transport.RequestId
	var result json.RawMessage
	var err error

	if errResp != nil {
		id = errResp.Id
		err = &RPCError{
			ID:      errResp.Id,
			Code:    errResp.Error.Code,
			Message: errResp.Error.Message,
			Data:    errResp.Error.Data,
		}
	} else {
		result = response.Result
		id = response.Id
	}

	p.mu.Lock()
	ch := p.responseHandlers[id]
	delete(p.responseHandlers, id)
	delete(p.progressHandlers, id)
	p.mu.Unlock()

	if ch == nil {
		metricskey.StatsRPCOrphanResponses.IncrCounter(1, "stdio")
		logger.KV(xlog.DEBUG, "status", "orphan_response", "id", id)
		return
	}

	ch <- &responseEnvelope{
		response: result,
		err:      err,
	}
}

// Close closes the connection
func (p *Protocol) Close() error {
	if p.transport != nil {
		return p.transport.Close()
	}
	return nil
}

// InFlight returns the number of pending calls. Used by diagnostics and tests.
func (p *Protocol) InFlight() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.responseHandlers)
}

// Request sends a request and waits for the matching response, retrying
// timed-out attempts per the retry policy with exponentially growing
// backoff. Each attempt uses a fresh correlation id; the abandoned id's
// late response, if any, is discarded as orphaned.
func (p *Protocol) Request(ctx context.Context, method string, params any, opts *RequestOptions) (json.RawMessage, error) {
	if p.transport == nil {
		return nil, errors.New("not connected")
	}

	if opts == nil {
		opts = &RequestOptions{}
	}
	if opts.Context == nil {
		opts.Context = ctx
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultRequestTimeout
	}
	retry := p.retry
	if opts.Retry != nil {
		retry = opts.Retry.normalize()
	}

	started := time.Now()
	defer metricskey.PerfRPCRequest.MeasureSince(started, method)

	var lastID transport.RequestId
	for attempt := 1; ; attempt++ {
		result, err := p.requestOnce(ctx, method, params, opts, &lastID)
		if err == nil {
			return result, nil
		}
		if !isRetryable(err) || attempt >= retry.MaxAttempts {
			var timeoutErr *TimeoutError
			if errors.As(err, &timeoutErr) {
				timeoutErr.Attempts = attempt
				metricskey.StatsRPCRequestsTimedOut.IncrCounter(1, method)
				return nil, timeoutErr
			}
			return nil, err
		}

		metricskey.StatsRPCRequestsRetried.IncrCounter(1, method)
		logger.KV(xlog.WARNING,
			"status", "retrying_request",
			"method", method,
			"attempt", attempt,
			"err", err.Error(),
		)

		timer := time.NewTimer(retry.backoff(attempt))
		select {
		case <-opts.Context.Done():
			timer.Stop()
			return nil, opts.Context.Err()
		case <-timer.C:
		}
	}
}

// requestOnce performs a single attempt: register a pending call, send the
// frame, wait for result, cancellation or deadline.
func (p *Protocol) requestOnce(ctx context.Context, method string, params any, opts *RequestOptions, lastID *transport.RequestId) (json.RawMessage, error) {
	p.mu.Lock()
	id := p.requestMessageID
	p.requestMessageID++
	ch := make(chan *responseEnvelope, 1)
	p.responseHandlers[id] = ch
	if opts.OnProgress != nil {
		p.progressHandlers[id] = opts.OnProgress
	}
	p.mu.Unlock()
	*lastID = id

	deregister := func() {
		p.mu.Lock()
		delete(p.responseHandlers, id)
		delete(p.progressHandlers, id)
		p.mu.Unlock()
	}

	requestParams := params
	if opts.OnProgress != nil {
		meta := map[string]any{
			"progressToken": id,
		}
		if params == nil {
			requestParams = map[string]any{
				"_meta": meta,
			}
		} else if paramsMap, ok := params.(map[string]any); ok {
			// Inject the token into a copy; the caller's map must not
			// carry a _meta entry, and each attempt has its own id.
			withMeta := make(map[string]any, len(paramsMap)+1)
			for k, v := range paramsMap {
				withMeta[k] = v
			}
			withMeta["_meta"] = meta
			requestParams = withMeta
		} else {
			deregister()
			return nil, errors.New("params must be nil or map[string]interface{} when using progress")
		}
	}

	marshalledParams, err := json.Marshal(requestParams)
	if err != nil {
		deregister()
		return nil, errors.Wrap(err, "failed to marshal params")
	}

	request := &transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  marshalledParams,
		Id:      id,
	}

	metricskey.StatsRPCRequestsSent.IncrCounter(1, method)
	if err := p.transport.Send(ctx, transport.NewBaseMessageRequest(request)); err != nil {
		deregister()
		return nil, errors.WithMessage(err, "failed to send request")
	}

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	select {
	case envelope, ok := <-ch:
		if !ok {
			return nil, &transport.ConnectionError{Reason: "connection closed"}
		}
		if envelope.err != nil {
			if rpcErr := (*RPCError)(nil); errors.As(envelope.err, &rpcErr) {
				rpcErr.Method = method
			}
			return nil, envelope.err
		}
		return envelope.response, nil

	case <-opts.Context.Done():
		deregister()
		p.sendCancelNotification(id, opts.Context.Err().Error())
		return nil, opts.Context.Err()

	case <-timer.C:
		deregister()
		p.sendCancelNotification(id, "request timeout")
		return nil, &TimeoutError{Method: method, ID: id, Attempts: 1, Timeout: opts.Timeout}
	}
}

// isRetryable reports whether the failure class may be retried: only
// timeouts and broken-transport sends qualify. Peer-reported errors never do.
func isRetryable(err error) bool {
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	var connErr *transport.ConnectionError
	return errors.As(err, &connErr)
}

func (p *Protocol) sendCancelNotification(requestID transport.RequestId, reason string) {
	params := map[string]any{
		"requestId": requestID,
		"reason":    reason,
	}
	if err := p.Notification("notifications/cancelled", params); err != nil {
		p.handleError(errors.WithMessage(err, "failed to send cancel notification"))
	}
}

func (p *Protocol) sendErrorResponse(requestID transport.RequestId, err error) {
	inner := transport.BaseJSONRPCErrorInner{
		Code:    transport.ErrCodeInternalError,
		Message: err.Error(),
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		inner.Code = rpcErr.Code
		inner.Message = rpcErr.Message
		inner.Data = rpcErr.Data
	}
	response := &transport.BaseJSONRPCError{
		Jsonrpc: "2.0",
		Id:      requestID,
		Error:   inner,
	}

	if err := p.transport.Send(context.Background(), transport.NewBaseMessageError(response)); err != nil {
		p.handleError(errors.WithMessage(err, "failed to send error response"))
	}
}

// Notification emits a notification, which is a one-way message that does not expect a response
func (p *Protocol) Notification(method string, params any) error {
	if p.transport == nil {
		return errors.New("not connected")
	}

	marshalled, err := json.Marshal(params)
	if err != nil {
		return errors.Wrap(err, "failed to marshal notification params")
	}

	notification := &transport.BaseJSONRPCNotification{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  marshalled,
	}

	return p.transport.Send(context.Background(), transport.NewBaseMessageNotification(notification))
}

// SetRequestHandler registers a handler to invoke when this protocol object receives a request with the given method
func (p *Protocol) SetRequestHandler(method string, handler RequestHandler) {
	p.mu.Lock()
	p.requestHandlers[method] = handler
	p.mu.Unlock()
}

// RemoveRequestHandler removes the request handler for the given method
func (p *Protocol) RemoveRequestHandler(method string) {
	p.mu.Lock()
	delete(p.requestHandlers, method)
	p.mu.Unlock()
}

// SetNotificationHandler registers a handler to invoke when this protocol object receives a notification with the given method
func (p *Protocol) SetNotificationHandler(method string, handler NotificationHandler) {
	p.mu.Lock()
	p.notificationHandlers[method] = handler
	p.mu.Unlock()
}

// RemoveNotificationHandler removes the notification handler for the given method
func (p *Protocol) RemoveNotificationHandler(method string) {
	p.mu.Lock()
	delete(p.notificationHandlers, method)
	p.mu.Unlock()
}
