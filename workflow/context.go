package workflow

import (
	"sync"
	"sync/atomic"
	"time"
)

// ExecutionContext is the mutable state of one in-progress run.
//
// Values is written only by the runner goroutine. The running flag, the
// current node and the executed trail may be read concurrently by status
// queries.
type ExecutionContext struct {
	WorkflowID string
	RunID      string
	StartedAt  time.Time
	Values     *NodeValues

	running atomic.Bool

	mu            sync.RWMutex
	currentNodeID string
	executedNodes []string
}

// NewExecutionContext creates a running context for workflowID.
func NewExecutionContext(workflowID, runID string) *ExecutionContext {
	c := &ExecutionContext{
		WorkflowID: workflowID,
		RunID:      runID,
		StartedAt:  time.Now(),
		Values:     NewNodeValues(),
	}
	c.running.Store(true)
	return c
}

// IsRunning reports whether the run has not been stopped.
func (c *ExecutionContext) IsRunning() bool {
	return c.running.Load()
}

// Stop clears the running flag. It reports whether the flag was set.
// The runner observes it before starting the next node.
func (c *ExecutionContext) Stop() bool {
	return c.running.Swap(false)
}

// CurrentNodeID returns the node presently executing.
func (c *ExecutionContext) CurrentNodeID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentNodeID
}

// ExecutedNodes returns a copy of the ids of the nodes run so far, in order.
func (c *ExecutionContext) ExecutedNodes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.executedNodes))
	copy(out, c.executedNodes)
	return out
}

func (c *ExecutionContext) setCurrentNode(nodeID string) {
	c.mu.Lock()
	c.currentNodeID = nodeID
	c.mu.Unlock()
}

func (c *ExecutionContext) markExecuted(nodeID string) {
	c.mu.Lock()
	c.executedNodes = append(c.executedNodes, nodeID)
	c.mu.Unlock()
}

// Status is a point-in-time view of a run for progress reporting.
type Status struct {
	WorkflowID    string    `json:"workflow_id"`
	RunID         string    `json:"run_id"`
	Running       bool      `json:"running"`
	CurrentNodeID string    `json:"current_node_id,omitempty"`
	ExecutedNodes []string  `json:"executed_nodes"`
	StartedAt     time.Time `json:"started_at"`
}

// Status snapshots the context.
func (c *ExecutionContext) Status() Status {
	return Status{
		WorkflowID:    c.WorkflowID,
		RunID:         c.RunID,
		Running:       c.IsRunning(),
		CurrentNodeID: c.CurrentNodeID(),
		ExecutedNodes: c.ExecutedNodes(),
		StartedAt:     c.StartedAt,
	}
}
