package localtransport_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/effective-security/toolbridge/mcp/transport"
	"github.com/effective-security/toolbridge/mcp/transport/localtransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, server := localtransport.NewPair()
	defer client.Close()
	defer server.Close()

	received := make(chan *transport.BaseJsonRpcMessage, 1)
	server.SetMessageHandler(func(ctx context.Context, message *transport.BaseJsonRpcMessage) {
		if message.Type == transport.BaseMessageTypeJSONRPCRequestType {
			received <- message
			err := server.Send(ctx, transport.NewBaseMessageResponse(&transport.BaseJSONRPCResponse{
				Jsonrpc: "2.0",
				Id:      message.JsonRpcRequest.Id,
				Result:  json.RawMessage(`{"ok":true}`),
			}))
			assert.NoError(t, err)
		}
	})

	replies := make(chan *transport.BaseJsonRpcMessage, 1)
	client.SetMessageHandler(func(ctx context.Context, message *transport.BaseJsonRpcMessage) {
		replies <- message
	})

	require.NoError(t, client.Start(ctx))
	require.NoError(t, server.Start(ctx))

	err := client.Send(ctx, transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Id:      7,
		Method:  "ping",
	}))
	require.NoError(t, err)

	select {
	case msg := <-received:
		assert.Equal(t, "ping", msg.JsonRpcRequest.Method)
		assert.Equal(t, transport.RequestId(7), msg.JsonRpcRequest.Id)
	case <-time.After(time.Second):
		t.Fatal("request not delivered")
	}

	select {
	case msg := <-replies:
		require.Equal(t, transport.BaseMessageTypeJSONRPCResponseType, msg.Type)
		assert.Equal(t, transport.RequestId(7), msg.JsonRpcResponse.Id)
		assert.JSONEq(t, `{"ok":true}`, string(msg.JsonRpcResponse.Result))
	case <-time.After(time.Second):
		t.Fatal("response not delivered")
	}
}

func TestPreservesSendOrder(t *testing.T) {
	ctx := context.Background()
	client, server := localtransport.NewPair()
	defer client.Close()
	defer server.Close()

	received := make(chan transport.RequestId, 16)
	server.SetMessageHandler(func(ctx context.Context, message *transport.BaseJsonRpcMessage) {
		received <- message.JsonRpcRequest.Id
	})

	require.NoError(t, server.Start(ctx))
	require.NoError(t, client.Start(ctx))

	for i := 1; i <= 10; i++ {
		err := client.Send(ctx, transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
			Jsonrpc: "2.0",
			Id:      transport.RequestId(i),
			Method:  "ping",
		}))
		require.NoError(t, err)
	}

	for i := 1; i <= 10; i++ {
		select {
		case id := <-received:
			assert.Equal(t, transport.RequestId(i), id)
		case <-time.After(time.Second):
			t.Fatalf("message %d not delivered", i)
		}
	}
}

func TestSendAfterClose(t *testing.T) {
	ctx := context.Background()
	client, server := localtransport.NewPair()

	require.NoError(t, client.Start(ctx))
	require.NoError(t, server.Start(ctx))

	closed := false
	client.SetCloseHandler(func() {
		closed = true
	})

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.True(t, closed)

	err := client.Send(ctx, transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Id:      1,
		Method:  "ping",
	}))
	var connErr *transport.ConnectionError
	require.ErrorAs(t, err, &connErr)

	// peer sends fail too
	err = server.Send(ctx, transport.NewBaseMessageRequest(&transport.BaseJSONRPCRequest{
		Jsonrpc: "2.0",
		Id:      2,
		Method:  "ping",
	}))
	require.ErrorAs(t, err, &connErr)
	require.NoError(t, server.Close())
}

func TestDoubleStart(t *testing.T) {
	ctx := context.Background()
	client, server := localtransport.NewPair()
	defer client.Close()
	defer server.Close()

	require.NoError(t, client.Start(ctx))
	assert.Error(t, client.Start(ctx))
}
