package workflow

import (
	"context"
	"time"
)

// RunStatus is the terminal or current state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// NodeReport records the execution of a single node.
type NodeReport struct {
	NodeID    string        `json:"node_id"`
	NodeType  NodeType      `json:"node_type"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// RunReport records the complete execution path of one run.
type RunReport struct {
	RunID      string         `json:"run_id"`
	WorkflowID string         `json:"workflow_id"`
	Status     RunStatus      `json:"status"`
	Trigger    TriggerContext `json:"trigger"`
	Output     any            `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at"`
	Duration   time.Duration  `json:"duration"`
	Nodes      []NodeReport   `json:"nodes"`
}

// HistoryRecorder persists run reports. RecordRun is called once when a run
// starts and once when it ends.
type HistoryRecorder interface {
	RecordRun(ctx context.Context, report RunReport) error
}

// runTrail accumulates a RunReport. It is owned by the runner goroutine.
type runTrail struct {
	report RunReport
}

func newRunTrail(runID, workflowID string, trigger TriggerContext) *runTrail {
	return &runTrail{report: RunReport{
		RunID:      runID,
		WorkflowID: workflowID,
		Status:     RunStatusRunning,
		Trigger:    trigger,
		StartedAt:  time.Now(),
		Nodes:      make([]NodeReport, 0),
	}}
}

func (t *runTrail) nodeStart(node Node) int {
	t.report.Nodes = append(t.report.Nodes, NodeReport{
		NodeID:    node.ID,
		NodeType:  node.Type,
		StartedAt: time.Now(),
	})
	return len(t.report.Nodes) - 1
}

func (t *runTrail) nodeEnd(idx int, result NodeResult, err error) {
	n := &t.report.Nodes[idx]
	n.EndedAt = time.Now()
	n.Duration = n.EndedAt.Sub(n.StartedAt)
	switch {
	case err != nil:
		n.Error = err.Error()
	case !result.Success:
		n.Error = result.Error
	default:
		n.Success = true
	}
}

func (t *runTrail) complete(status RunStatus, output any, err error) RunReport {
	t.report.EndedAt = time.Now()
	t.report.Duration = t.report.EndedAt.Sub(t.report.StartedAt)
	t.report.Status = status
	t.report.Output = output
	if err != nil {
		t.report.Error = err.Error()
	}
	return t.snapshot()
}

func (t *runTrail) snapshot() RunReport {
	out := t.report
	out.Nodes = make([]NodeReport, len(t.report.Nodes))
	copy(out.Nodes, t.report.Nodes)
	return out
}
