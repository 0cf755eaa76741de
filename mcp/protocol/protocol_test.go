package protocol_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolbridge/mcp/protocol"
	"github.com/effective-security/toolbridge/mcp/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is an in-memory Transport whose replies are scripted by the
// test through the onSend hook.
type fakeTransport struct {
	mu             sync.Mutex
	sent           []*transport.BaseJsonRpcMessage
	onSend         func(message *transport.BaseJsonRpcMessage)
	messageHandler func(ctx context.Context, message *transport.BaseJsonRpcMessage)
	closeHandler   func()
	closed         bool
}

func (t *fakeTransport) Start(ctx context.Context) error { return nil }

func (t *fakeTransport) Send(ctx context.Context, message *transport.BaseJsonRpcMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &transport.ConnectionError{Reason: "transport is closed"}
	}
	t.sent = append(t.sent, message)
	onSend := t.onSend
	t.mu.Unlock()

	if onSend != nil {
		onSend(message)
	}
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	wasClosed := t.closed
	t.closed = true
	closeHandler := t.closeHandler
	t.mu.Unlock()
	if !wasClosed && closeHandler != nil {
		closeHandler()
	}
	return nil
}

func (t *fakeTransport) SetCloseHandler(handler func()) { t.closeHandler = handler }
func (t *fakeTransport) SetErrorHandler(handler func(error)) {
}
func (t *fakeTransport) SetMessageHandler(handler func(ctx context.Context, message *transport.BaseJsonRpcMessage)) {
	t.messageHandler = handler
}

// deliver injects an inbound message, as the read loop would.
func (t *fakeTransport) deliver(message *transport.BaseJsonRpcMessage) {
	t.messageHandler(context.Background(), message)
}

func (t *fakeTransport) sentRequests() []*transport.BaseJSONRPCRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*transport.BaseJSONRPCRequest
	for _, m := range t.sent {
		if m.Type == transport.BaseMessageTypeJSONRPCRequestType {
			out = append(out, m.JsonRpcRequest)
		}
	}
	return out
}

func respond(id transport.RequestId, result any) *transport.BaseJsonRpcMessage {
	data, _ := json.Marshal(result)
	return transport.NewBaseMessageResponse(&transport.BaseJSONRPCResponse{
		Jsonrpc: "2.0",
		Id:      id,
		Result:  data,
	})
}

func connect(t *testing.T, opts *protocol.ProtocolOptions) (*protocol.Protocol, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	p := protocol.NewProtocol(opts)
	require.NoError(t, p.Connect(context.Background(), tr))
	return p, tr
}

func TestRequestResponse(t *testing.T) {
	p, tr := connect(t, nil)
	tr.onSend = func(message *transport.BaseJsonRpcMessage) {
		if message.Type == transport.BaseMessageTypeJSONRPCRequestType {
			go tr.deliver(respond(message.JsonRpcRequest.Id, map[string]any{"ok": true}))
		}
	}

	result, err := p.Request(context.Background(), "tools/list", nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
	assert.Equal(t, 0, p.InFlight())
}

func TestOutOfOrderCorrelation(t *testing.T) {
	p, tr := connect(t, nil)

	// Hold all requests, then answer them in reverse order: each caller
	// must still receive exactly the response carrying its own id.
	var pending []*transport.BaseJSONRPCRequest
	var mu sync.Mutex
	released := make(chan struct{})
	const n = 8

	tr.onSend = func(message *transport.BaseJsonRpcMessage) {
		if message.Type != transport.BaseMessageTypeJSONRPCRequestType {
			return
		}
		mu.Lock()
		pending = append(pending, message.JsonRpcRequest)
		ready := len(pending) == n
		mu.Unlock()
		if ready {
			close(released)
		}
	}

	go func() {
		<-released
		mu.Lock()
		defer mu.Unlock()
		for i := len(pending) - 1; i >= 0; i-- {
			req := pending[i]
			tr.deliver(respond(req.Id, map[string]any{"id": int64(req.Id)}))
		}
	}()

	var wg sync.WaitGroup
	results := make([]json.RawMessage, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Request(context.Background(), "tools/call", map[string]any{"seq": i}, nil)
		}(i)
	}
	wg.Wait()

	ids := map[int64]bool{}
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		var body struct {
			Id int64 `json:"id"`
		}
		require.NoError(t, json.Unmarshal(results[i], &body))
		assert.False(t, ids[body.Id], "response id %d delivered twice", body.Id)
		ids[body.Id] = true
	}
	assert.Equal(t, 0, p.InFlight())
}

func TestTimeoutRetries(t *testing.T) {
	p, tr := connect(t, &protocol.ProtocolOptions{
		Retry: protocol.RetryPolicy{MaxAttempts: 3, BaseBackoff: 5 * time.Millisecond},
	})

	// Never respond: every attempt times out.
	started := time.Now()
	_, err := p.Request(context.Background(), "tools/call", nil, &protocol.RequestOptions{
		Timeout: 20 * time.Millisecond,
	})
	require.Error(t, err)

	var timeoutErr *protocol.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 3, timeoutErr.Attempts)
	assert.Equal(t, "tools/call", timeoutErr.Method)

	// 3 timeouts plus backoffs of 5ms and 10ms.
	assert.GreaterOrEqual(t, time.Since(started), 75*time.Millisecond)

	// Each attempt sent a fresh request with a distinct id.
	reqs := tr.sentRequests()
	require.Len(t, reqs, 3)
	assert.NotEqual(t, reqs[0].Id, reqs[1].Id)
	assert.NotEqual(t, reqs[1].Id, reqs[2].Id)
	assert.Equal(t, 0, p.InFlight())
}

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	p, tr := connect(t, &protocol.ProtocolOptions{
		Retry: protocol.RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond},
	})

	var calls int
	tr.onSend = func(message *transport.BaseJsonRpcMessage) {
		if message.Type != transport.BaseMessageTypeJSONRPCRequestType {
			return
		}
		calls++
		if calls >= 2 {
			go tr.deliver(respond(message.JsonRpcRequest.Id, "done"))
		}
	}

	result, err := p.Request(context.Background(), "tools/call", nil, &protocol.RequestOptions{
		Timeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"done"`, string(result))
}

func TestRPCErrorNotRetried(t *testing.T) {
	p, tr := connect(t, &protocol.ProtocolOptions{
		Retry: protocol.RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Millisecond},
	})
	tr.onSend = func(message *transport.BaseJsonRpcMessage) {
		if message.Type == transport.BaseMessageTypeJSONRPCRequestType {
			go tr.deliver(transport.NewBaseMessageError(&transport.BaseJSONRPCError{
				Jsonrpc: "2.0",
				Id:      message.JsonRpcRequest.Id,
				Error: transport.BaseJSONRPCErrorInner{
					Code:    transport.ErrCodeInvalidParams,
					Message: "bad arguments",
				},
			}))
		}
	}

	_, err := p.Request(context.Background(), "tools/call", nil, nil)
	require.Error(t, err)

	var rpcErr *protocol.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, transport.ErrCodeInvalidParams, rpcErr.Code)
	assert.Equal(t, "tools/call", rpcErr.Method)

	// A peer-reported error is semantic: exactly one attempt.
	assert.Len(t, tr.sentRequests(), 1)
}

func TestOrphanResponseDiscarded(t *testing.T) {
	p, tr := connect(t, &protocol.ProtocolOptions{
		Retry: protocol.RetryPolicy{MaxAttempts: 1, BaseBackoff: time.Millisecond},
	})

	_, err := p.Request(context.Background(), "tools/call", nil, &protocol.RequestOptions{
		Timeout: 10 * time.Millisecond,
	})
	var timeoutErr *protocol.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)

	// The late reply matches no pending call and must be dropped without
	// disturbing anything.
	reqs := tr.sentRequests()
	require.Len(t, reqs, 1)
	assert.NotPanics(t, func() {
		tr.deliver(respond(reqs[0].Id, "late"))
	})
	assert.Equal(t, 0, p.InFlight())
}

func TestContextCancellation(t *testing.T) {
	p, tr := connect(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := p.Request(ctx, "tools/call", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, p.InFlight())

	// Cancellation is announced to the peer.
	var sawCancel bool
	tr.mu.Lock()
	for _, m := range tr.sent {
		if m.Type == transport.BaseMessageTypeJSONRPCNotificationType &&
			m.JsonRpcNotification.Method == "notifications/cancelled" {
			sawCancel = true
		}
	}
	tr.mu.Unlock()
	assert.True(t, sawCancel)
}

func TestInboundRequestHandler(t *testing.T) {
	p, tr := connect(t, nil)

	done := make(chan *transport.BaseJsonRpcMessage, 1)
	tr.onSend = func(message *transport.BaseJsonRpcMessage) {
		if message.Type == transport.BaseMessageTypeJSONRPCResponseType {
			done <- message
		}
	}

	p.SetRequestHandler("sampling/createMessage", func(ctx context.Context, req *transport.BaseJSONRPCRequest, extra protocol.RequestHandlerExtra) (transport.JsonRpcBody, error) {
		return map[string]any{"role": "assistant", "text": "hello"}, nil
	})

	tr.deliver(transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Id:      99,
		Method:  "sampling/createMessage",
		Params:  json.RawMessage(`{}`),
	}))

	select {
	case msg := <-done:
		assert.Equal(t, transport.RequestId(99), msg.JsonRpcResponse.Id)
		assert.JSONEq(t, `{"role":"assistant","text":"hello"}`, string(msg.JsonRpcResponse.Result))
	case <-time.After(2 * time.Second):
		t.Fatal("handler response was not sent")
	}
}

func TestInboundUnknownMethod(t *testing.T) {
	p, tr := connect(t, nil)
	_ = p

	done := make(chan *transport.BaseJsonRpcMessage, 1)
	tr.onSend = func(message *transport.BaseJsonRpcMessage) {
		if message.Type == transport.BaseMessageTypeJSONRPCErrorType {
			done <- message
		}
	}

	tr.deliver(transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Id:      7,
		Method:  "no/such/method",
	}))

	select {
	case msg := <-done:
		assert.Equal(t, transport.ErrCodeMethodNotFound, msg.JsonRpcError.Error.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("error response was not sent")
	}
}

func TestProgressNotifications(t *testing.T) {
	p, tr := connect(t, nil)

	var mu sync.Mutex
	var updates []protocol.Progress
	tr.onSend = func(message *transport.BaseJsonRpcMessage) {
		if message.Type != transport.BaseMessageTypeJSONRPCRequestType {
			return
		}
		req := message.JsonRpcRequest
		go func() {
			params, _ := json.Marshal(map[string]any{
				"progress":      1,
				"total":         2,
				"progressToken": req.Id,
			})
			tr.deliver(transport.NewBaseMessageNotification(&transport.BaseJSONRPCNotification{
				Jsonrpc: "2.0",
				Method:  "$/progress",
				Params:  params,
			}))
			time.Sleep(20 * time.Millisecond)
			tr.deliver(respond(req.Id, "ok"))
		}()
	}

	_, err := p.Request(context.Background(), "tools/call", nil, &protocol.RequestOptions{
		OnProgress: func(progress protocol.Progress) {
			mu.Lock()
			updates = append(updates, progress)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates)
	assert.Equal(t, int64(1), updates[0].Progress)
	assert.Equal(t, int64(2), updates[0].Total)
}

func TestProgressTokenDoesNotMutateParams(t *testing.T) {
	p, tr := connect(t, nil)

	tr.onSend = func(message *transport.BaseJsonRpcMessage) {
		if message.Type == transport.BaseMessageTypeJSONRPCRequestType {
			go tr.deliver(respond(message.JsonRpcRequest.Id, "ok"))
		}
	}

	params := map[string]any{"name": "echo"}
	_, err := p.Request(context.Background(), "tools/call", params, &protocol.RequestOptions{
		OnProgress: func(protocol.Progress) {},
	})
	require.NoError(t, err)

	// The token travels on the wire, not in the caller's map.
	assert.NotContains(t, params, "_meta")
	reqs := tr.sentRequests()
	require.Len(t, reqs, 1)
	var sentParams map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].Params, &sentParams))
	assert.Contains(t, sentParams, "_meta")
	assert.Equal(t, "echo", sentParams["name"])
}

func TestCloseFailsPendingCalls(t *testing.T) {
	p, tr := connect(t, nil)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Request(context.Background(), "tools/call", nil, nil)
		errCh <- err
	}()

	// Wait until the call is in flight, then break the channel.
	require.Eventually(t, func() bool {
		return p.InFlight() == 1
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, tr.Close())

	select {
	case err := <-errCh:
		require.Error(t, err)
		var connErr *transport.ConnectionError
		assert.True(t, errors.As(err, &connErr) || errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not failed on close")
	}
}
