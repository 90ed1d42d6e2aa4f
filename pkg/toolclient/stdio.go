package toolclient

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// StdioConfig configures a StdioTransport.
type StdioConfig struct {
	Command string
	Args    []string
	Env     []string
}

// StdioTransport runs the tool host as a subprocess and speaks MCP over its stdio.
// The process is started lazily on first use.
type StdioTransport struct {
	cfg StdioConfig
	// dial builds the MCP transport for a fresh session. cmd is nil when no
	// subprocess backs it.
	dial func() (transport mcpsdk.Transport, cmd *exec.Cmd)

	mu      sync.Mutex
	cmd     *exec.Cmd
	session *mcpsdk.ClientSession
}

// NewStdioTransport creates a StdioTransport.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	t := &StdioTransport{cfg: cfg}
	t.dial = t.commandTransport
	return t
}

// ListTools pages through the host's tool list.
func (t *StdioTransport) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	session, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}

	descs, err := listAllTools(ctx, session.ListTools)
	if err != nil {
		return nil, t.fail("discover", err)
	}
	return descs, nil
}

type listToolsFunc func(ctx context.Context, params *mcpsdk.ListToolsParams) (*mcpsdk.ListToolsResult, error)

// listAllTools follows NextCursor until the host stops paging or repeats a cursor.
func listAllTools(ctx context.Context, list listToolsFunc) ([]ToolDescriptor, error) {
	var descs []ToolDescriptor
	params := &mcpsdk.ListToolsParams{}
	for {
		page, err := list(ctx, params)
		if err != nil {
			return nil, err
		}

		for _, tool := range page.Tools {
			if tool == nil || tool.Name == "" {
				continue
			}
			descs = append(descs, ToolDescriptor{
				Name:            tool.Name,
				Description:     tool.Description,
				ParameterSchema: schemaMap(tool.InputSchema),
			})
		}

		if page.NextCursor == "" || page.NextCursor == params.Cursor {
			break
		}
		params = &mcpsdk.ListToolsParams{Cursor: page.NextCursor}
	}
	return descs, nil
}

// CallTool invokes a tool and joins its text content.
func (t *StdioTransport) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error) {
	op := "invoke " + name
	session, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: arguments,
	})
	if err != nil {
		return nil, t.fail(op, err)
	}

	var parts []string
	for _, content := range result.Content {
		if text, ok := content.(*mcpsdk.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	text := strings.Join(parts, "\n")

	if result.IsError {
		if text == "" {
			text = "unknown error"
		}
		return nil, &ExecutionError{Tool: name, Message: text}
	}
	return text, nil
}

// Close ends the MCP session and stops the subprocess.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked()
}

func (t *StdioTransport) connect(ctx context.Context) (*mcpsdk.ClientSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session != nil {
		return t.session, nil
	}

	transport, cmd := t.dial()
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: ClientName, Version: ClientVersion}, nil)
	session, err := client.Connect(ctx, transport)
	if err != nil {
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
		return nil, classify("connect", err)
	}

	t.cmd = cmd
	t.session = session
	return session, nil
}

func (t *StdioTransport) commandTransport() (mcpsdk.Transport, *exec.Cmd) {
	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Stderr = os.Stderr
	if len(t.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), t.cfg.Env...)
	}
	return mcpsdk.NewCommandTransport(cmd), cmd
}

// fail drops a broken session so the next call reconnects.
func (t *StdioTransport) fail(op string, err error) error {
	classified := classify(op, err)
	if IsRetryable(classified) {
		t.mu.Lock()
		_ = t.closeLocked()
		t.mu.Unlock()
	}
	return classified
}

func (t *StdioTransport) closeLocked() error {
	var err error
	if t.session != nil {
		err = t.session.Close()
		t.session = nil
	}
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
		_ = t.cmd.Wait()
	}
	t.cmd = nil
	return err
}

func schemaMap(schema interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
