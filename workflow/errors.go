package workflow

import (
	"errors"
	"fmt"
)

// ErrNilGraph is returned when ExecuteWorkflow is called without a graph.
var ErrNilGraph = errors.New("workflow: graph is nil")

// CycleError reports that a graph is not a DAG. It is detected before any
// node executes.
type CycleError struct {
	NodeID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow contains a cycle at node %s", e.NodeID)
}

// NodeExecutionError is returned when a node's executor reports failure.
// It is fatal to the whole run.
type NodeExecutionError struct {
	NodeID   string
	NodeType NodeType
	Message  string
	Cause    error
}

func (e *NodeExecutionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("node %s (%s) failed", e.NodeID, e.NodeType)
	}
	return fmt.Sprintf("node %s (%s) failed: %s", e.NodeID, e.NodeType, e.Message)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Cause
}

// UnregisteredExecutorError reports a node type with no registered
// executor. The runner surfaces it as a NodeExecutionError.
type UnregisteredExecutorError struct {
	NodeType NodeType
}

func (e *UnregisteredExecutorError) Error() string {
	return fmt.Sprintf("no executor registered for node type %q", e.NodeType)
}

// IsCycle reports whether err is or wraps a *CycleError.
func IsCycle(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}
