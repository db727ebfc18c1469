package workflow

import "reflect"

// Logical input names produced by the resolver.
const (
	InputInput        = "input"
	InputHistory      = "history"
	InputToolset      = "toolset"
	InputSystemPrompt = "systemPrompt"
	InputCharacterID  = "characterId"
)

var inputHandleNames = map[string]string{
	"in-input":         InputInput,
	"in-history":       InputHistory,
	"in-toolset":       InputToolset,
	"in-system-prompt": InputSystemPrompt,
	"in-character":     InputCharacterID,
}

// InputName maps an edge's target handle to the logical input name seen by
// executors. Unknown handles pass through unchanged.
func InputName(targetHandle string) string {
	if name, ok := inputHandleNames[targetHandle]; ok {
		return name
	}
	return targetHandle
}

// ResolveInputs builds a node's logical inputs from the values produced by
// its upstream nodes.
//
// Edges are processed in declaration order. Each edge reads the
// handle-scoped output of its source, falling back to the source's primary
// output; edges whose source produced nothing are skipped. Values feeding
// the toolset input are concatenated across edges, every other input is
// last-writer-wins.
func ResolveInputs(node Node, edges []Edge, values *NodeValues) map[string]any {
	inputs := make(map[string]any)
	for _, e := range edges {
		if e.Target != node.ID {
			continue
		}
		v, ok := values.Lookup(e.Source, e.SourceHandle)
		if !ok {
			continue
		}

		name := InputName(e.TargetHandle)
		if name == InputToolset {
			acc, _ := inputs[name].([]any)
			inputs[name] = appendFlattened(acc, v)
			continue
		}
		inputs[name] = v
	}
	return inputs
}

// appendFlattened appends v to acc, spreading v when it is a slice or array.
func appendFlattened(acc []any, v any) []any {
	if acc == nil {
		acc = []any{}
	}
	switch items := v.(type) {
	case nil:
		return acc
	case []any:
		return append(acc, items...)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return append(acc, v)
		}
		for i := 0; i < rv.Len(); i++ {
			acc = append(acc, rv.Index(i).Interface())
		}
		return acc
	}
	return append(acc, v)
}

// isCollection reports whether v is a slice or array other than raw bytes.
func isCollection(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Type().Elem().Kind() != reflect.Uint8
	}
	return false
}
