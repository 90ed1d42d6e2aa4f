package toolclient

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/tidwall/gjson"
)

// ToolDescriptor describes one remote tool as advertised by the host.
type ToolDescriptor struct {
	Name            string                 `json:"name"`
	Description     string                 `json:"description"`
	ParameterSchema map[string]interface{} `json:"parameters"`
}

// Catalog is an immutable snapshot of the tools known for one host.
type Catalog struct {
	Tools     map[string]ToolDescriptor
	FetchedAt time.Time
	TTL       time.Duration
}

// Len returns the number of tools in the catalog.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Tools)
}

// Get returns the descriptor for name.
func (c *Catalog) Get(name string) (ToolDescriptor, bool) {
	if c == nil {
		return ToolDescriptor{}, false
	}
	d, ok := c.Tools[name]
	return d, ok
}

// Names returns the tool names in sorted order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Tools))
	for name := range c.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns the descriptors sorted by name.
func (c *Catalog) Descriptors() []ToolDescriptor {
	names := c.Names()
	descs := make([]ToolDescriptor, 0, len(names))
	for _, name := range names {
		descs = append(descs, c.Tools[name])
	}
	return descs
}

// ValidAt reports whether the snapshot is still fresh at now.
func (c *Catalog) ValidAt(now time.Time) bool {
	if c == nil {
		return false
	}
	return c.FetchedAt.Add(c.TTL).After(now)
}

// Transport speaks one tool-host wire protocol.
type Transport interface {
	// ListTools returns the advertised tools. A payload without a tool list
	// must be reported as a *ProtocolError.
	ListTools(ctx context.Context) ([]ToolDescriptor, error)

	// CallTool invokes a tool once and returns its decoded result.
	CallTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error)

	// Close releases connections or processes held by the transport.
	Close() error
}

var schemaKeys = []string{"parameters", "parameterSchema", "inputSchema", "input_schema"}

// parseDescriptor reads a tool entry from a wire payload. Hosts disagree on the
// schema key, so the known spellings are probed in order.
func parseDescriptor(entry gjson.Result) (ToolDescriptor, bool) {
	name := entry.Get("name").String()
	if name == "" {
		return ToolDescriptor{}, false
	}

	desc := ToolDescriptor{
		Name:        name,
		Description: entry.Get("description").String(),
	}

	for _, key := range schemaKeys {
		raw := entry.Get(key)
		if !raw.IsObject() {
			continue
		}
		var schema map[string]interface{}
		if err := json.Unmarshal([]byte(raw.Raw), &schema); err == nil {
			desc.ParameterSchema = schema
			break
		}
	}

	if desc.ParameterSchema == nil {
		desc.ParameterSchema = map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		}
	}

	return desc, true
}

// parseToolList extracts descriptors from a payload carrying a "tools" array.
func parseToolList(op string, payload []byte) ([]ToolDescriptor, string, error) {
	if !gjson.ValidBytes(payload) {
		return nil, "", &ProtocolError{Op: op, Reason: "response is not valid JSON"}
	}

	tools := gjson.GetBytes(payload, "tools")
	if !tools.Exists() || !tools.IsArray() {
		return nil, "", &ProtocolError{Op: op, Reason: "response has no tools list"}
	}

	descs := make([]ToolDescriptor, 0, len(tools.Array()))
	for _, entry := range tools.Array() {
		if desc, ok := parseDescriptor(entry); ok {
			descs = append(descs, desc)
		}
	}

	return descs, gjson.GetBytes(payload, "nextCursor").String(), nil
}
