package workflow

// NodeType is the open-ended type tag of a node. Executors are looked up
// by this tag in an ExecutorRegistry.
type NodeType string

// Built-in node types.
const (
	NodeTypeTrigger    NodeType = "trigger"
	NodeTypeText       NodeType = "text"
	NodeTypeJavaScript NodeType = "javascript"
	NodeTypeInference  NodeType = "inference"
	NodeTypeChatOutput NodeType = "chatOutput"
	NodeTypeToolset    NodeType = "toolset"
)

// IsBuiltin reports whether t is one of the node types shipped with the engine.
func (t NodeType) IsBuiltin() bool {
	switch t {
	case NodeTypeTrigger, NodeTypeText, NodeTypeJavaScript,
		NodeTypeInference, NodeTypeChatOutput, NodeTypeToolset:
		return true
	}
	return false
}

// Node is a unit of work in a graph. Data is type-specific configuration
// that the engine passes through to the executor untouched.
type Node struct {
	ID   string         `json:"id" yaml:"id"`
	Type NodeType       `json:"type" yaml:"type"`
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// StringData returns Data[key] when it holds a string.
func (n Node) StringData(key string) string {
	if n.Data == nil {
		return ""
	}
	s, _ := n.Data[key].(string)
	return s
}

// Edge carries data from a source node's output handle to a target
// node's input handle.
type Edge struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty"`
	Source       string `json:"source" yaml:"source"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	Target       string `json:"target" yaml:"target"`
	TargetHandle string `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
}

// Graph is an agent/workflow definition. Node order is only used to break
// ties when ordering.
type Graph struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []Node `json:"nodes" yaml:"nodes"`
	Edges       []Edge `json:"edges" yaml:"edges"`
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// IncomingEdges returns the edges targeting nodeID in declaration order.
func (g *Graph) IncomingEdges(nodeID string) []Edge {
	var in []Edge
	for _, e := range g.Edges {
		if e.Target == nodeID {
			in = append(in, e)
		}
	}
	return in
}

// nodeIndex maps node ids to nodes. The first declaration of a duplicated
// id wins.
func (g *Graph) nodeIndex() map[string]Node {
	idx := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, ok := idx[n.ID]; !ok {
			idx[n.ID] = n
		}
	}
	return idx
}
