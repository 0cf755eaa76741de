package mcp

// registry is an immutable snapshot of the peer's tools and resources.
// Discover builds a new one and swaps it in atomically under the client
// mutex; readers always see either the previous or the new snapshot,
// never a partial one.
type registry struct {
	tools         []ToolDescriptor
	toolsByName   map[string]*ToolDescriptor
	resources     []ResourceDescriptor
	resourcesByID map[string]*ResourceDescriptor
}

func newRegistry(tools []ToolDescriptor, resources []ResourceDescriptor) *registry {
	r := &registry{
		tools:         tools,
		toolsByName:   make(map[string]*ToolDescriptor, len(tools)),
		resources:     resources,
		resourcesByID: make(map[string]*ResourceDescriptor, len(resources)),
	}
	for i := range tools {
		r.toolsByName[tools[i].Name] = &tools[i]
	}
	for i := range resources {
		r.resourcesByID[resources[i].URI] = &resources[i]
	}
	return r
}

func (r *registry) tool(name string) (*ToolDescriptor, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.toolsByName[name]
	return t, ok
}

func (r *registry) resource(uri string) (*ResourceDescriptor, bool) {
	if r == nil {
		return nil, false
	}
	res, ok := r.resourcesByID[uri]
	return res, ok
}
