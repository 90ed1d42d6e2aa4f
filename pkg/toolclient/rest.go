package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const maxResponseBytes = 4 << 20

// RESTConfig configures a RESTTransport.
type RESTConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Headers    map[string]string
}

// RESTTransport talks to hosts that expose GET /mcp/tools and POST /mcp/call.
type RESTTransport struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
}

// NewRESTTransport creates a RESTTransport.
func NewRESTTransport(cfg RESTConfig) *RESTTransport {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &RESTTransport{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: client,
		headers:    cfg.Headers,
	}
}

type restCallRequest struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ListTools fetches the catalog.
func (t *RESTTransport) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/mcp/tools", nil)
	if err != nil {
		return nil, &ProtocolError{Op: "discover", Reason: "build request", Err: err}
	}

	status, body, err := t.do(req)
	if err != nil {
		return nil, classify("discover", err)
	}
	if status >= http.StatusInternalServerError {
		return nil, &TransportError{Op: "discover", Err: fmt.Errorf("status %d", status)}
	}
	if status != http.StatusOK {
		return nil, &ProtocolError{Op: "discover", Reason: fmt.Sprintf("unexpected status %d", status)}
	}

	descs, _, err := parseToolList("discover", body)
	return descs, err
}

// CallTool posts one invocation and decodes the {status, result, error} envelope.
func (t *RESTTransport) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error) {
	op := "invoke " + name

	payload, err := json.Marshal(restCallRequest{Tool: name, Arguments: arguments})
	if err != nil {
		return nil, &ProtocolError{Op: op, Reason: "encode arguments", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/mcp/call", bytes.NewReader(payload))
	if err != nil {
		return nil, &ProtocolError{Op: op, Reason: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := t.do(req)
	if err != nil {
		return nil, classify(op, err)
	}

	if !gjson.ValidBytes(body) {
		if status >= http.StatusInternalServerError {
			return nil, &TransportError{Op: op, Err: fmt.Errorf("status %d", status)}
		}
		return nil, &ProtocolError{Op: op, Reason: "response is not valid JSON"}
	}

	switch gjson.GetBytes(body, "status").String() {
	case "success":
		return gjson.GetBytes(body, "result").Value(), nil
	case "error":
		message := gjson.GetBytes(body, "error").String()
		if message == "" {
			message = "unknown error"
		}
		return nil, &ExecutionError{Tool: name, Message: message}
	}

	if status >= http.StatusInternalServerError {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("status %d", status)}
	}
	return nil, &ProtocolError{Op: op, Reason: "response has no status"}
}

// Close is a no-op; connections are pooled by the http.Client.
func (t *RESTTransport) Close() error { return nil }

func (t *RESTTransport) do(req *http.Request) (int, []byte, error) {
	req.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
