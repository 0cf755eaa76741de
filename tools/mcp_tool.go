package tools

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolbridge/mcp"
	"github.com/effective-security/toolbridge/pkg/llmutils"
	"github.com/effective-security/toolbridge/resilient"
	"github.com/invopop/jsonschema"
)

// mcpTool exposes a tool discovered on a peer as an ITool. Calls go
// through the supplied Caller, so the binding picks up whatever caching,
// pooling or breaking the caller chain provides.
type mcpTool struct {
	caller      resilient.Caller
	name        string
	description string
	params      *jsonschema.Schema
}

// NewMCPTool binds a discovered tool descriptor to a Caller.
func NewMCPTool(caller resilient.Caller, desc mcp.ToolDescriptor) (ITool, error) {
	t := &mcpTool{
		caller:      caller,
		name:        desc.Name,
		description: desc.Description,
	}
	if len(desc.InputSchema) > 0 {
		var schema jsonschema.Schema
		if err := json.Unmarshal(desc.InputSchema, &schema); err != nil {
			return nil, errors.WithMessagef(err, "invalid input schema for tool %q", desc.Name)
		}
		t.params = &schema
	}
	return t, nil
}

// NewMCPTools binds every descriptor in the list.
func NewMCPTools(caller resilient.Caller, descs []mcp.ToolDescriptor) ([]ITool, error) {
	list := make([]ITool, 0, len(descs))
	for _, desc := range descs {
		t, err := NewMCPTool(caller, desc)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, nil
}

func (t *mcpTool) Name() string {
	return t.name
}

func (t *mcpTool) Description() string {
	return t.description
}

func (t *mcpTool) Parameters() any {
	return t.params
}

func (t *mcpTool) Call(ctx context.Context, input string) (string, error) {
	var args map[string]any
	if input != "" {
		if err := json.Unmarshal([]byte(input), &args); err != nil {
			return "", errors.WithMessagef(ErrFailedUnmarshalInput, "tool %q: %s", t.name, err.Error())
		}
	}
	res, err := t.caller.CallTool(ctx, t.name, args)
	if err != nil {
		return "", err
	}
	if len(res.StructuredContent) > 0 {
		return llmutils.ToJSON(res.StructuredContent), nil
	}
	return res.TextContent(), nil
}
