package toolschema

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/harun/stockpilot/pkg/toolclient"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// FailurePrefix starts every error string returned by Call.
const FailurePrefix = "Tool execution failed: "

// CompiledTool is a tool descriptor bound to an Invoker.
type CompiledTool struct {
	name        string
	description string
	required    []Param
	optional    []Param
	schema      map[string]interface{}
	validator   *gojsonschema.Schema
	invoker     Invoker
}

// Compile builds a CompiledTool from desc.
func Compile(desc toolclient.ToolDescriptor, invoker Invoker) (*CompiledTool, error) {
	if desc.Name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if invoker == nil {
		return nil, fmt.Errorf("tool %s: invoker is required", desc.Name)
	}

	schema := StripAdditionalProperties(desc.ParameterSchema)
	if schema == nil {
		schema = map[string]interface{}{}
	}

	if t, ok := schema["type"]; ok && t != "object" {
		return nil, fmt.Errorf("tool %s: parameter schema must be an object, got %v", desc.Name, t)
	}
	schema["type"] = "object"

	properties := map[string]interface{}{}
	if raw, ok := schema["properties"]; ok && raw != nil {
		props, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("tool %s: properties must be an object", desc.Name)
		}
		properties = props
	}
	schema["properties"] = properties

	requiredNames, err := stringList(schema["required"])
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", desc.Name, err)
	}
	if len(requiredNames) == 0 {
		delete(schema, "required")
	}
	requiredSet := make(map[string]bool, len(requiredNames))
	for _, name := range requiredNames {
		requiredSet[name] = true
	}

	tool := &CompiledTool{
		name:        desc.Name,
		description: desc.Description,
		schema:      schema,
		invoker:     invoker,
	}

	for _, name := range requiredNames {
		if _, ok := properties[name]; !ok {
			// Required but undeclared; accept any value.
			tool.required = append(tool.required, Param{Name: name, Type: TypeAny, Required: true})
		}
	}
	for name, raw := range properties {
		prop, _ := raw.(map[string]interface{})
		param := Param{
			Name:     name,
			Type:     typeFromSchema(prop["type"]),
			Required: requiredSet[name],
		}
		if d, ok := prop["description"].(string); ok {
			param.Description = d
		}
		if param.Required {
			tool.required = append(tool.required, param)
		} else {
			tool.optional = append(tool.optional, param)
		}
	}
	sortParams(tool.required)
	sortParams(tool.optional)

	validator, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("tool %s: invalid parameter schema: %w", desc.Name, err)
	}
	tool.validator = validator

	return tool, nil
}

// CompileAll compiles every tool in catalog. Tools that fail to compile are
// logged and skipped.
func CompileAll(catalog *toolclient.Catalog, invoker Invoker, logger zerolog.Logger) []*CompiledTool {
	descs := catalog.Descriptors()
	tools := make([]*CompiledTool, 0, len(descs))
	for _, desc := range descs {
		tool, err := Compile(desc, invoker)
		if err != nil {
			logger.Warn().Err(err).Str("tool", desc.Name).Msg("Skipping tool that failed to compile")
			continue
		}
		tools = append(tools, tool)
	}
	return tools
}

// Name returns the tool name.
func (t *CompiledTool) Name() string { return t.name }

// Description returns the tool description.
func (t *CompiledTool) Description() string { return t.description }

// Parameters returns a copy of the sanitized parameter schema.
func (t *CompiledTool) Parameters() map[string]interface{} {
	return deepCopy(t.schema).(map[string]interface{})
}

// Required returns the mandatory parameters sorted by name.
func (t *CompiledTool) Required() []Param { return append([]Param(nil), t.required...) }

// Optional returns the optional parameters sorted by name.
func (t *CompiledTool) Optional() []Param { return append([]Param(nil), t.optional...) }

// Signature renders the tool as name(required..., optional?...).
func (t *CompiledTool) Signature() string {
	parts := make([]string, 0, len(t.required)+len(t.optional))
	for _, p := range t.required {
		parts = append(parts, p.String())
	}
	for _, p := range t.optional {
		parts = append(parts, p.String())
	}
	return fmt.Sprintf("%s(%s)", t.name, strings.Join(parts, ", "))
}

// Bind checks args against the parameter list and returns the payload to send.
func (t *CompiledTool) Bind(args map[string]interface{}) (map[string]interface{}, error) {
	bindErr := &BindError{Tool: t.name}
	known := make(map[string]bool, len(t.required)+len(t.optional))
	for _, p := range t.required {
		known[p.Name] = true
	}
	for _, p := range t.optional {
		known[p.Name] = true
	}

	payload := make(map[string]interface{}, len(args))
	for name, value := range args {
		if isAbsent(value) {
			continue
		}
		if !known[name] {
			bindErr.Unknown = append(bindErr.Unknown, name)
			continue
		}
		payload[name] = value
	}

	for _, p := range t.required {
		if _, ok := payload[p.Name]; !ok {
			bindErr.Missing = append(bindErr.Missing, p.Name)
		}
	}

	if bindErr.empty() {
		result, err := t.validator.Validate(gojsonschema.NewGoLoader(payload))
		if err != nil {
			bindErr.Invalid = append(bindErr.Invalid, err.Error())
		} else if !result.Valid() {
			for _, desc := range result.Errors() {
				bindErr.Invalid = append(bindErr.Invalid, desc.String())
			}
		}
	}

	if !bindErr.empty() {
		bindErr.sort()
		return nil, bindErr
	}
	return payload, nil
}

// Call binds args, invokes the remote tool and renders the result as a string.
// It never returns raw errors; failures come back as "Tool execution failed: <reason>".
func (t *CompiledTool) Call(ctx context.Context, args map[string]interface{}) string {
	if guard := guardFrom(ctx); guard != nil && guard(t.name) {
		return HeldMessage
	}

	payload, err := t.Bind(args)
	if err != nil {
		return FailurePrefix + err.Error()
	}

	result, err := t.invoker.InvokeTool(ctx, t.name, payload)
	if err != nil {
		return FailurePrefix + toolclient.Reason(err)
	}
	return FormatResult(result)
}

// FormatResult renders a tool result for model consumption. Strings pass
// through, nil becomes "null" and everything else is JSON with sorted keys.
func FormatResult(result interface{}) string {
	switch v := result.(type) {
	case nil:
		return "null"
	case string:
		return v
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprint(result)
	}
	return string(data)
}

// StripAdditionalProperties returns a deep copy of schema with every
// additionalProperties key removed at any depth.
func StripAdditionalProperties(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	return strip(schema).(map[string]interface{})
}

func strip(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			if k == "additionalProperties" {
				continue
			}
			out[k] = strip(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, child := range t {
			out[i] = strip(child)
		}
		return out
	default:
		return v
	}
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			out[k] = deepCopy(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, child := range t {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}

func stringList(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), t...), nil
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("required must list parameter names, got %v", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("required must be an array, got %T", v)
	}
}

func sortParams(params []Param) {
	sort.Slice(params, func(i, j int) bool { return params[i].Name < params[j].Name })
}
