package toolhost

import (
	"fmt"

	"ragpipeline/internal/pipelineerr"
)

// ToolSchema is the JSON-schema subset the tool host validates params
// against: type, required, enum. Adapters may advertise richer schemas;
// only these fields are enforced.
type ToolSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]PropSchema  `json:"properties"`
	Required   []string               `json:"required"`
}

// PropSchema describes one parameter's type and, optionally, enum.
type PropSchema struct {
	Type string   `json:"type"`
	Enum []string `json:"enum,omitempty"`
}

// ValidateParams checks params against schema's required fields, types, and
// enums, returning a SchemaInvalid pipeline error describing the first
// violation found.
func ValidateParams(schema ToolSchema, params map[string]any) error {
	for _, req := range schema.Required {
		if _, ok := params[req]; !ok {
			return pipelineerr.New(pipelineerr.SchemaInvalid, fmt.Sprintf("missing required param %q", req))
		}
	}
	for name, prop := range schema.Properties {
		val, ok := params[name]
		if !ok {
			continue
		}
		if prop.Type != "" && !matchesType(val, prop.Type) {
			return pipelineerr.New(pipelineerr.SchemaInvalid, fmt.Sprintf("param %q: expected type %s", name, prop.Type))
		}
		if len(prop.Enum) > 0 {
			s, ok := val.(string)
			if !ok || !containsStr(prop.Enum, s) {
				return pipelineerr.New(pipelineerr.SchemaInvalid, fmt.Sprintf("param %q: value not in enum %v", name, prop.Enum))
			}
		}
	}
	return nil
}

func matchesType(val any, typ string) bool {
	switch typ {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		switch val.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "integer":
		switch v := val.(type) {
		case float64:
			return v == float64(int64(v))
		case int, int64:
			return true
		}
		return false
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	default:
		return true
	}
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
