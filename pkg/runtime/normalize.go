package runtime

import (
	"encoding/json"
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/tidwall/gjson"
)

var (
	listPaths     = []string{"tool_calls", "toolCalls", "calls", "new_items"}
	namePaths     = []string{"tool", "name", "tool_name", "function.name"}
	argumentPaths = []string{"arguments", "args", "input", "parameters", "function.arguments"}
	resultPaths   = []string{"result", "output", "content"}
)

// NormalizeToolCalls converts whatever a runtime reported as tool calls into
// records. Unrecognized shapes yield an empty slice.
func NormalizeToolCalls(raw interface{}) []ToolCallRecord {
	switch v := raw.(type) {
	case nil:
		return []ToolCallRecord{}
	case []ToolCallRecord:
		out := make([]ToolCallRecord, 0, len(v))
		for _, rec := range v {
			if rec.Tool == "" {
				continue
			}
			out = append(out, fillRecord(rec))
		}
		return out
	case []ProviderToolCall:
		out := make([]ToolCallRecord, 0, len(v))
		for _, tc := range v {
			if tc.Name == "" {
				continue
			}
			out = append(out, fillRecord(ToolCallRecord{ID: tc.ID, Tool: tc.Name, Arguments: tc.Arguments}))
		}
		return out
	case []byte:
		return normalizeJSON(v)
	case string:
		return normalizeJSON([]byte(v))
	case json.RawMessage:
		return normalizeJSON(v)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return []ToolCallRecord{}
	}
	return normalizeJSON(data)
}

func normalizeJSON(data []byte) []ToolCallRecord {
	if !gjson.ValidBytes(data) {
		return []ToolCallRecord{}
	}

	root := gjson.ParseBytes(data)
	list := root
	if root.IsObject() {
		list = gjson.Result{}
		for _, path := range listPaths {
			if r := root.Get(path); r.IsArray() {
				list = r
				break
			}
		}
	}
	if !list.IsArray() {
		return []ToolCallRecord{}
	}

	out := []ToolCallRecord{}
	for _, item := range list.Array() {
		if !item.IsObject() {
			continue
		}
		name := firstString(item, namePaths)
		if name == "" {
			continue
		}
		rec := ToolCallRecord{
			ID:   item.Get("id").String(),
			Tool: name,
		}
		for _, path := range argumentPaths {
			if r := item.Get(path); r.Exists() {
				if args, err := argumentsFrom(r); err == nil {
					rec.Arguments = args
				}
				break
			}
		}
		rec.Result = firstString(item, resultPaths)
		out = append(out, fillRecord(rec))
	}
	return out
}

func firstString(item gjson.Result, paths []string) string {
	for _, path := range paths {
		if r := item.Get(path); r.Exists() && r.Type != gjson.Null {
			if r.Type == gjson.String {
				return r.String()
			}
			return r.Raw
		}
	}
	return ""
}

// argumentsFrom accepts an object or a string holding a JSON object.
func argumentsFrom(r gjson.Result) (map[string]interface{}, error) {
	if r.Type == gjson.String {
		return parseArguments(r.String())
	}
	return parseArguments(r.Raw)
}

// parseArguments decodes tool arguments; anything but a JSON object is malformed.
func parseArguments(raw string) (map[string]interface{}, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]interface{}{}, nil
	}
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		return nil, fmt.Errorf("tool arguments are not a JSON object: %w", ErrMalformedOutput)
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("tool arguments: %v: %w", err, ErrMalformedOutput)
	}
	return args, nil
}

func fillRecord(rec ToolCallRecord) ToolCallRecord {
	if rec.ID == "" {
		if id, err := gonanoid.New(); err == nil {
			rec.ID = "call_" + id
		}
	}
	if rec.Arguments == nil {
		rec.Arguments = map[string]interface{}{}
	}
	return rec
}
