// Package resilient provides composable decorators over a tool caller:
// result caching, connection pooling, per-tool circuit breaking and
// request batching. Each decorator wraps any Caller and is itself a
// Caller, so they stack in any order.
package resilient

import (
	"context"

	"github.com/effective-security/toolbridge/mcp"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolbridge", "resilient")

// Caller invokes a named tool. The session client implements it; so does
// every decorator in this package.
type Caller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)

// CallTool implements Caller.
func (f CallerFunc) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	return f(ctx, name, args)
}
