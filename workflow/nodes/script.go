package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/BaSui01/agentgraph/workflow"
)

// DefaultScript runs when a javascript node names no script.
const DefaultScript = "passthrough"

// ScriptFunc is a scripted transform. It may return a string (text
// output), a slice (tool output) or a map with "text" / "toolset" fields.
type ScriptFunc func(ctx context.Context, node workflow.Node, inputs map[string]any) (any, error)

// Scripts is a named table of transforms, safe for concurrent use.
type Scripts struct {
	mu      sync.RWMutex
	scripts map[string]ScriptFunc
}

// NewScripts creates a table preloaded with the built-in transforms:
// passthrough, uppercase, lowercase, trim, template, json_parse, lines
// and split_output.
func NewScripts() *Scripts {
	s := &Scripts{scripts: make(map[string]ScriptFunc)}
	s.Register("passthrough", func(_ context.Context, _ workflow.Node, in map[string]any) (any, error) {
		return in[workflow.InputInput], nil
	})
	s.Register("uppercase", textScript(strings.ToUpper))
	s.Register("lowercase", textScript(strings.ToLower))
	s.Register("trim", textScript(strings.TrimSpace))
	s.Register("template", func(_ context.Context, node workflow.Node, in map[string]any) (any, error) {
		tmpl := node.StringData("template")
		for name, v := range in {
			tmpl = strings.ReplaceAll(tmpl, "{{"+name+"}}", asText(v))
		}
		return tmpl, nil
	})
	s.Register("json_parse", func(_ context.Context, _ workflow.Node, in map[string]any) (any, error) {
		var out any
		if err := json.Unmarshal([]byte(asText(in[workflow.InputInput])), &out); err != nil {
			return nil, fmt.Errorf("input is not valid JSON: %w", err)
		}
		return out, nil
	})
	s.Register("lines", func(_ context.Context, _ workflow.Node, in map[string]any) (any, error) {
		var out []any
		for _, line := range strings.Split(asText(in[workflow.InputInput]), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
		if out == nil {
			out = []any{}
		}
		return out, nil
	})
	// split_output forwards text and tools on separate handles.
	s.Register("split_output", func(_ context.Context, _ workflow.Node, in map[string]any) (any, error) {
		out := map[string]any{"text": asText(in[workflow.InputInput])}
		if tools, ok := in[workflow.InputToolset]; ok {
			out["toolset"] = tools
		}
		return out, nil
	})
	return s
}

func textScript(fn func(string) string) ScriptFunc {
	return func(_ context.Context, _ workflow.Node, in map[string]any) (any, error) {
		return fn(asText(in[workflow.InputInput])), nil
	}
}

// Register installs fn under name, replacing any previous transform.
func (s *Scripts) Register(name string, fn ScriptFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[name] = fn
}

// Get returns the transform registered under name.
func (s *Scripts) Get(name string) (ScriptFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.scripts[name]
	return fn, ok
}

// Names returns the registered transform names in sorted order.
func (s *Scripts) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.scripts))
	for name := range s.scripts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ScriptExecutor runs the transform named by Data["script"].
type ScriptExecutor struct {
	scripts *Scripts
}

// NewScriptExecutor creates the javascript node executor.
func NewScriptExecutor(scripts *Scripts) *ScriptExecutor {
	if scripts == nil {
		scripts = NewScripts()
	}
	return &ScriptExecutor{scripts: scripts}
}

func (e *ScriptExecutor) Execute(ctx context.Context, req workflow.ExecRequest) (workflow.NodeResult, error) {
	name := req.Node.StringData("script")
	if name == "" {
		name = DefaultScript
	}
	fn, ok := e.scripts.Get(name)
	if !ok {
		return workflow.Failed(fmt.Sprintf("unknown script: %s", name)), nil
	}

	v, err := runScript(ctx, fn, req.Node, req.Inputs)
	if err != nil {
		return workflow.Failed(fmt.Sprintf("script %s failed: %v", name, err)), nil
	}
	return workflow.Succeeded(v), nil
}

// runScript converts a panicking transform into an error.
func runScript(ctx context.Context, fn ScriptFunc, node workflow.Node, inputs map[string]any) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, node, inputs)
}
