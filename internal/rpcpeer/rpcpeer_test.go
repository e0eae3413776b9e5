package rpcpeer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.decentralis.dev/core/internal/derrors"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	srv := NewServer("127.0.0.1:0", nil)
	srv.Register("ping", func(ctx context.Context, req Request) (interface{}, *RPCError) {
		return map[string]string{"peer_uuid": "self"}, nil
	})
	srv.Register("echo", func(ctx context.Context, req Request) (interface{}, *RPCError) {
		var params map[string]string
		json.Unmarshal(req.Params, &params)
		return params, nil
	})
	srv.Register("boom", func(ctx context.Context, req Request) (interface{}, *RPCError) {
		return nil, &RPCError{Code: CodeChunkNotFound, Message: "not found"}
	})

	addr, err := srv.Listen()
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return addr.String()
}

func TestPingRoundTrip(t *testing.T) {
	addr := startTestServer(t)
	client := NewClient()

	var result map[string]string
	err := client.Call(context.Background(), addr, "ping", map[string]string{}, &result)
	require.NoError(t, err)
	require.Equal(t, "self", result["peer_uuid"])
}

func TestEchoRoundTrip(t *testing.T) {
	addr := startTestServer(t)
	client := NewClient()

	var result map[string]string
	err := client.Call(context.Background(), addr, "echo", map[string]string{"k": "v"}, &result)
	require.NoError(t, err)
	require.Equal(t, "v", result["k"])
}

func TestApplicationErrorPropagates(t *testing.T) {
	addr := startTestServer(t)
	client := NewClient()

	err := client.Call(context.Background(), addr, "boom", map[string]string{}, nil)
	require.Error(t, err)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, CodeChunkNotFound, rpcErr.Code)
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	addr := startTestServer(t)
	client := NewClient()

	err := client.Call(context.Background(), addr, "nonexistent", map[string]string{}, nil)
	require.Error(t, err)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, CodeMethodNotFound, rpcErr.Code)
}

func TestDialFailureWrapsPeerCommunication(t *testing.T) {
	client := NewClient()
	client.Timeout = 200 * time.Millisecond
	err := client.Call(context.Background(), "127.0.0.1:1", "ping", map[string]string{}, nil)
	require.ErrorIs(t, err, derrors.ErrPeerCommunication)
}
