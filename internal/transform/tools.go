// Package transform converts canonical Messages requests into each backend's
// native shape and declares the native response types the normalizer reads.
package transform

import (
	"encoding/json"

	"github.com/Jasonzhangf/route-claudecode-sub002/internal/domain"
)

// ToolShape tags the two tool encodings accepted on input.
type ToolShape int

const (
	// ToolShapeFlattened is the Anthropic shape {name, input_schema}.
	ToolShapeFlattened ToolShape = iota
	// ToolShapeNestedFunction is the OpenAI shape
	// {type:"function", function:{name, parameters}}.
	ToolShapeNestedFunction
)

// DetectToolShape classifies a tool declaration. It is a pure function of
// the decoded fields; callers dispatch on the result instead of probing
// properties ad hoc.
func DetectToolShape(t domain.Tool) (ToolShape, error) {
	if t.Type == "function" && t.Function != nil {
		return ToolShapeNestedFunction, nil
	}
	if t.Name != "" {
		return ToolShapeFlattened, nil
	}
	return 0, &domain.TransformValidationError{Detail: "tool has neither name nor function declaration"}
}

// CanonicalTool reduces either tool shape to (name, description, schema).
func CanonicalTool(t domain.Tool) (string, string, json.RawMessage, error) {
	shape, err := DetectToolShape(t)
	if err != nil {
		return "", "", nil, err
	}
	switch shape {
	case ToolShapeNestedFunction:
		return t.Function.Name, t.Function.Description, t.Function.Parameters, nil
	default:
		return t.Name, t.Description, t.InputSchema, nil
	}
}

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

func schemaOrEmpty(schema json.RawMessage) json.RawMessage {
	if len(schema) == 0 {
		return emptySchema
	}
	return schema
}
