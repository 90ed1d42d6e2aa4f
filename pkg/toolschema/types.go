package toolschema

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ParamType is the semantic type of a tool parameter.
type ParamType string

const (
	TypeText  ParamType = "text"
	TypeInt   ParamType = "int"
	TypeFloat ParamType = "float"
	TypeBool  ParamType = "bool"
	TypeList  ParamType = "list"
	TypeMap   ParamType = "map"
	TypeAny   ParamType = "any"
)

// typeFromSchema maps a JSON schema "type" value to a ParamType.
// Union types such as ["string","null"] use the first non-null member.
func typeFromSchema(v interface{}) ParamType {
	switch t := v.(type) {
	case string:
		switch t {
		case "string":
			return TypeText
		case "integer":
			return TypeInt
		case "number":
			return TypeFloat
		case "boolean":
			return TypeBool
		case "array":
			return TypeList
		case "object":
			return TypeMap
		}
	case []interface{}:
		for _, member := range t {
			if s, ok := member.(string); ok && s != "null" {
				return typeFromSchema(s)
			}
		}
	}
	return TypeAny
}

// Param is one parameter of a compiled tool.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

func (p Param) String() string {
	if p.Required {
		return fmt.Sprintf("%s: %s", p.Name, p.Type)
	}
	return fmt.Sprintf("%s?: %s", p.Name, p.Type)
}

type absentValue struct{}

func (absentValue) String() string { return "<absent>" }

// Absent marks an optional argument as not provided. Absent entries are
// removed before the call reaches the tool host.
var Absent interface{} = absentValue{}

func isAbsent(v interface{}) bool {
	_, ok := v.(absentValue)
	return ok
}

// Invoker performs the remote call for a compiled tool.
type Invoker interface {
	InvokeTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error)
}

// BindError reports arguments that do not fit a tool's parameter list.
type BindError struct {
	Tool    string
	Missing []string
	Unknown []string
	Invalid []string
}

func (e *BindError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required parameters: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown parameters: "+strings.Join(e.Unknown, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid arguments: "+strings.Join(e.Invalid, "; "))
	}
	return fmt.Sprintf("%s: %s", e.Tool, strings.Join(parts, "; "))
}

func (e *BindError) empty() bool {
	return len(e.Missing) == 0 && len(e.Unknown) == 0 && len(e.Invalid) == 0
}

func (e *BindError) sort() {
	sort.Strings(e.Missing)
	sort.Strings(e.Unknown)
}

// Guard decides whether a tool call must be held back instead of executed.
type Guard func(toolName string) bool

type guardKey struct{}

// HeldMessage is returned by Call when a guard holds the tool back.
const HeldMessage = "Action requires user confirmation and was not executed."

// WithGuard attaches a guard to ctx. Compiled tools consult it before calling out.
func WithGuard(ctx context.Context, guard Guard) context.Context {
	return context.WithValue(ctx, guardKey{}, guard)
}

func guardFrom(ctx context.Context) Guard {
	if guard, ok := ctx.Value(guardKey{}).(Guard); ok {
		return guard
	}
	return nil
}
