package openapitools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Tool describes one callable operation. InputSchema is a JSON schema object
// produced by BuildInputSchema.
//
// Example:
//
//	tool := openapitools.Tool{
//	    Name:        "getPetById",
//	    Description: "Returns a single pet",
//	    InputSchema: map[string]interface{}{
//	        "type": "object",
//	        "properties": map[string]interface{}{
//	            "petId": map[string]interface{}{
//	                "type":        "integer",
//	                "description": "ID of pet to return",
//	            },
//	        },
//	        "required": []string{"petId"},
//	    },
//	}
type Tool struct {
	// Name is unique within a Registry. The converter itself may emit the same
	// name twice across conversions.
	Name string `json:"name" yaml:"name"`

	Description string `json:"description" yaml:"description"`

	// InputSchema is always {"type": "object", "properties": ..., "required": ...}.
	InputSchema map[string]interface{} `json:"inputSchema" yaml:"inputSchema"`
}

// Invoker runs the operation behind a tool with a name to value argument map
// and returns the decoded JSON response.
type Invoker func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// BoundTool pairs a Tool with the Invoker that executes it.
type BoundTool struct {
	Tool
	Invoke Invoker
}

// Definition returns the tool description.
func (t BoundTool) Definition() Tool {
	return t.Tool
}

// Call decodes argsJSON, invokes the tool and encodes the result as JSON.
// An empty argsJSON means no arguments.
func (t BoundTool) Call(ctx context.Context, argsJSON string) (string, error) {
	args := map[string]interface{}{}
	if trimmed := strings.TrimSpace(argsJSON); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
			return "", fmt.Errorf("%w: arguments must be a JSON object: %v", ErrInvalidArguments, err)
		}
	}

	result, err := t.Invoke(ctx, args)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(out), nil
}

// Synthesize builds the tool for op. The returned Invoker closes over a deep
// copy of op and baseURL, validates arguments against the input schema and then
// sends exactly one request through exec. Nothing is sent at synthesis time.
func Synthesize(exec *Executor, baseURL string, op Operation) BoundTool {
	op = op.Clone()
	tool := Tool{
		Name:        op.ToolName(),
		Description: op.ToolDescription(),
		InputSchema: BuildInputSchema(op),
	}
	schema := cloneSchema(tool.InputSchema)
	name := tool.Name

	invoke := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		if err := ValidateToolParameters(schema, args); err != nil {
			exec.metrics.observe(name, OutcomeInvalidArguments, 0)
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return exec.Do(ctx, baseURL, op, args)
	}

	return BoundTool{Tool: tool, Invoke: invoke}
}
