package nodes

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
)

// ToolCatalog holds the tools a toolset node may expose to a model.
type ToolCatalog struct {
	mu    sync.RWMutex
	tools map[string]types.Tool
}

// NewToolCatalog creates a catalog holding tools.
func NewToolCatalog(tools ...types.Tool) *ToolCatalog {
	c := &ToolCatalog{tools: make(map[string]types.Tool)}
	for _, t := range tools {
		c.Register(t)
	}
	return c
}

// Register adds t, replacing any tool with the same name.
func (c *ToolCatalog) Register(t types.Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[t.Name] = t
}

// Get returns the tool called name.
func (c *ToolCatalog) Get(name string) (types.Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (c *ToolCatalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.tools))
	for name := range c.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ToolsetExecutor emits the tools listed in Data["tools"], or every
// catalog tool when the list is absent. The collection is also reflected
// to the node's out-toolset handle.
type ToolsetExecutor struct {
	catalog *ToolCatalog
}

var _ workflow.OutputReflector = (*ToolsetExecutor)(nil)

// NewToolsetExecutor creates the toolset node executor.
func NewToolsetExecutor(catalog *ToolCatalog) *ToolsetExecutor {
	if catalog == nil {
		catalog = NewToolCatalog()
	}
	return &ToolsetExecutor{catalog: catalog}
}

func (e *ToolsetExecutor) Execute(_ context.Context, req workflow.ExecRequest) (workflow.NodeResult, error) {
	names, ok := toolNames(req.Node.Data["tools"])
	if !ok {
		names = e.catalog.Names()
	}

	out := make([]any, 0, len(names))
	for _, name := range names {
		t, ok := e.catalog.Get(name)
		if !ok {
			return workflow.Failed(fmt.Sprintf("unknown tool: %s", name)), nil
		}
		out = append(out, t)
	}
	return workflow.Succeeded(out), nil
}

// ReflectOutputs implements workflow.OutputReflector.
func (e *ToolsetExecutor) ReflectOutputs(nodeID string, value any, values *workflow.NodeValues) {
	values.Set(workflow.HandleSlot(nodeID, workflow.HandleOutToolset), value)
}

func toolNames(v any) ([]string, bool) {
	switch names := v.(type) {
	case []string:
		return names, true
	case []any:
		out := make([]string, 0, len(names))
		for _, n := range names {
			if s, ok := n.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}

// collectTools picks the tool definitions out of a resolved toolset input
// and reports how many items were not tools.
func collectTools(v any) ([]types.Tool, int) {
	items, ok := v.([]any)
	if !ok {
		if v == nil {
			return nil, 0
		}
		return nil, 1
	}
	var (
		out     []types.Tool
		dropped int
	)
	for _, item := range items {
		switch t := item.(type) {
		case types.Tool:
			out = append(out, t)
		case *types.Tool:
			if t != nil {
				out = append(out, *t)
				continue
			}
			dropped++
		default:
			dropped++
		}
	}
	return out, dropped
}
