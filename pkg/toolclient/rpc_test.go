package toolclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcHost struct {
	mu      sync.Mutex
	methods []string
	handle  func(method string, params json.RawMessage) (interface{}, *rpcError)
}

func (h *rpcHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
		ID     interface{}     `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.methods = append(h.methods, req.Method)
	h.mu.Unlock()

	if req.ID == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var (
		result interface{}
		rpcErr *rpcError
	)
	if req.Method == "initialize" {
		result = map[string]interface{}{"protocolVersion": mcpProtocolVersion}
	} else {
		result, rpcErr = h.handle(req.Method, req.Params)
	}

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *rpcHost) count(method string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, m := range h.methods {
		if m == method {
			n++
		}
	}
	return n
}

func TestRPCTransport(t *testing.T) {
	t.Run("should initialize once and page through tools", func(t *testing.T) {
		host := &rpcHost{handle: func(method string, params json.RawMessage) (interface{}, *rpcError) {
			var p struct {
				Cursor string `json:"cursor"`
			}
			_ = json.Unmarshal(params, &p)
			if p.Cursor == "" {
				return map[string]interface{}{
					"tools":      []map[string]interface{}{{"name": "a", "inputSchema": map[string]interface{}{"type": "object"}}},
					"nextCursor": "page2",
				}, nil
			}
			return map[string]interface{}{
				"tools": []map[string]interface{}{{"name": "b"}},
			}, nil
		}}
		server := httptest.NewServer(host)
		defer server.Close()

		transport := NewRPCTransport(RPCConfig{Endpoint: server.URL})
		descs, err := transport.ListTools(context.Background())
		require.NoError(t, err)
		require.Len(t, descs, 2)
		assert.Equal(t, "a", descs[0].Name)
		assert.Equal(t, "b", descs[1].Name)

		_, err = transport.ListTools(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, host.count("initialize"))
		assert.Equal(t, 1, host.count("notifications/initialized"))
		assert.Equal(t, 4, host.count("tools/list"))
	})

	t.Run("should join text content on success", func(t *testing.T) {
		host := &rpcHost{handle: func(method string, params json.RawMessage) (interface{}, *rpcError) {
			return map[string]interface{}{
				"content": []map[string]interface{}{{"type": "text", "text": "bill b-1 created"}},
			}, nil
		}}
		server := httptest.NewServer(host)
		defer server.Close()

		result, err := NewRPCTransport(RPCConfig{Endpoint: server.URL}).
			CallTool(context.Background(), "create_bill", map[string]interface{}{"customer": "Ann"})
		require.NoError(t, err)
		assert.Equal(t, "bill b-1 created", result)
	})

	t.Run("should map isError to an execution error", func(t *testing.T) {
		host := &rpcHost{handle: func(method string, params json.RawMessage) (interface{}, *rpcError) {
			return map[string]interface{}{
				"isError": true,
				"content": []map[string]interface{}{{"type": "text", "text": "item not found"}},
			}, nil
		}}
		server := httptest.NewServer(host)
		defer server.Close()

		_, err := NewRPCTransport(RPCConfig{Endpoint: server.URL}).
			CallTool(context.Background(), "delete_item", nil)
		var execErr *ExecutionError
		require.True(t, errors.As(err, &execErr))
		assert.Equal(t, "item not found", execErr.Message)
	})

	t.Run("should map method-not-found to a protocol error", func(t *testing.T) {
		host := &rpcHost{handle: func(method string, params json.RawMessage) (interface{}, *rpcError) {
			return nil, &rpcError{Code: rpcMethodNotFound, Message: "no such method"}
		}}
		server := httptest.NewServer(host)
		defer server.Close()

		_, err := NewRPCTransport(RPCConfig{Endpoint: server.URL}).
			CallTool(context.Background(), "delete_item", nil)
		var protoErr *ProtocolError
		assert.True(t, errors.As(err, &protoErr))
	})

	t.Run("should report a missing tools list as a protocol error", func(t *testing.T) {
		host := &rpcHost{handle: func(method string, params json.RawMessage) (interface{}, *rpcError) {
			return map[string]interface{}{}, nil
		}}
		server := httptest.NewServer(host)
		defer server.Close()

		_, err := NewRPCTransport(RPCConfig{Endpoint: server.URL}).ListTools(context.Background())
		var protoErr *ProtocolError
		assert.True(t, errors.As(err, &protoErr))
	})

	t.Run("should stop reading an oversized response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"pad":"`))
			_, _ = w.Write([]byte(strings.Repeat("x", maxResponseBytes)))
			_, _ = w.Write([]byte(`"}}`))
		}))
		defer server.Close()

		_, err := NewRPCTransport(RPCConfig{Endpoint: server.URL}).ListTools(context.Background())
		var protoErr *ProtocolError
		assert.True(t, errors.As(err, &protoErr))
	})
}
