package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

const mcpProtocolVersion = "2024-11-05"

// JSON-RPC error codes that indicate a broken exchange rather than a tool failure.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

// RPCConfig configures an RPCTransport.
type RPCConfig struct {
	Endpoint   string
	HTTPClient *http.Client
	Headers    map[string]string
}

// RPCTransport speaks MCP JSON-RPC 2.0 over HTTP POST. The initialize
// handshake runs once, on first use.
type RPCTransport struct {
	endpoint   string
	httpClient *http.Client
	headers    map[string]string

	mu          sync.Mutex
	nextID      int
	initialized bool
}

// NewRPCTransport creates an RPCTransport.
func NewRPCTransport(cfg RPCConfig) *RPCTransport {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &RPCTransport{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		httpClient: client,
		headers:    cfg.Headers,
	}
}

// ListTools pages through tools/list.
func (t *RPCTransport) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if err := t.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	var (
		all    []ToolDescriptor
		cursor string
	)
	for {
		var params interface{}
		if cursor != "" {
			params = map[string]interface{}{"cursor": cursor}
		}

		result, err := t.call(ctx, "discover", "tools/list", params)
		if err != nil {
			return nil, rpcFailure("discover", "", err)
		}

		descs, next, err := parseToolList("discover", result)
		if err != nil {
			return nil, err
		}
		all = append(all, descs...)

		if next == "" || next == cursor {
			break
		}
		cursor = next
	}

	return all, nil
}

// CallTool invokes tools/call. A result flagged isError becomes an *ExecutionError.
func (t *RPCTransport) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error) {
	op := "invoke " + name
	if err := t.ensureInitialized(ctx); err != nil {
		return nil, err
	}

	result, err := t.call(ctx, op, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return nil, rpcFailure(op, name, err)
	}
	if !gjson.ValidBytes(result) {
		return nil, &ProtocolError{Op: op, Reason: "result is not valid JSON"}
	}

	text, hasText := contentText(gjson.ParseBytes(result))
	if gjson.GetBytes(result, "isError").Bool() {
		if text == "" {
			text = "unknown error"
		}
		return nil, &ExecutionError{Tool: name, Message: text}
	}
	if hasText {
		return text, nil
	}
	return gjson.ParseBytes(result).Value(), nil
}

// Close is a no-op.
func (t *RPCTransport) Close() error { return nil }

func (t *RPCTransport) ensureInitialized(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.initialized {
		return nil
	}

	params := map[string]interface{}{
		"protocolVersion": mcpProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    ClientName,
			"version": ClientVersion,
		},
	}
	if _, err := t.send(ctx, "initialize", rpcRequest{
		JSONRPC: "2.0",
		Method:  "initialize",
		Params:  params,
		ID:      t.allocID(),
	}); err != nil {
		return rpcFailure("initialize", "", err)
	}

	// Notifications carry no id and get no response body worth reading.
	_, _ = t.post(ctx, rpcRequest{JSONRPC: "2.0", Method: "notifications/initialized"})

	t.initialized = true
	return nil
}

func (t *RPCTransport) call(ctx context.Context, op, method string, params interface{}) (json.RawMessage, error) {
	t.mu.Lock()
	id := t.allocID()
	t.mu.Unlock()

	return t.send(ctx, op, rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: id})
}

// allocID must be called with mu held.
func (t *RPCTransport) allocID() int {
	t.nextID++
	return t.nextID
}

func (t *RPCTransport) send(ctx context.Context, op string, req rpcRequest) (json.RawMessage, error) {
	body, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProtocolError{Op: op, Reason: "response is not a JSON-RPC message", Err: err}
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (t *RPCTransport) post(ctx context.Context, req rpcRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, &ProtocolError{Op: req.Method, Reason: "encode request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &ProtocolError{Op: req.Method, Reason: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusInternalServerError && !gjson.ValidBytes(body) {
		return nil, &TransportError{Op: req.Method, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return body, nil
}

// rpcFailure maps a JSON-RPC level error to the package taxonomy.
func rpcFailure(op, tool string, err error) error {
	rpcErr, ok := err.(*rpcError)
	if !ok {
		return classify(op, err)
	}
	switch rpcErr.Code {
	case rpcParseError, rpcInvalidRequest, rpcMethodNotFound:
		return &ProtocolError{Op: op, Reason: rpcErr.Message, Err: rpcErr}
	}
	if tool == "" {
		return &ProtocolError{Op: op, Reason: rpcErr.Message, Err: rpcErr}
	}
	return &ExecutionError{Tool: tool, Message: rpcErr.Message}
}

// contentText joins the text parts of an MCP content array.
func contentText(result gjson.Result) (string, bool) {
	content := result.Get("content")
	if !content.IsArray() {
		return "", false
	}

	var parts []string
	for _, item := range content.Array() {
		if item.Get("type").String() == "text" {
			parts = append(parts, item.Get("text").String())
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}
