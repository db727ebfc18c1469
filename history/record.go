package history

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/agentgraph/workflow"
)

// ErrNotFound is returned by Get when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// RunRecord is a stored workflow run.
type RunRecord struct {
	RunID      string                  `json:"run_id" bson:"_id"`
	WorkflowID string                  `json:"workflow_id" bson:"workflow_id"`
	Status     workflow.RunStatus      `json:"status" bson:"status"`
	Trigger    workflow.TriggerContext `json:"trigger" bson:"trigger"`
	Output     any                     `json:"output,omitempty" bson:"output,omitempty"`
	Error      string                  `json:"error,omitempty" bson:"error,omitempty"`
	StartedAt  time.Time               `json:"started_at" bson:"started_at"`
	EndedAt    time.Time               `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
	Nodes      []NodeRecord            `json:"nodes" bson:"nodes"`
}

// NodeRecord is one executed node of a run.
type NodeRecord struct {
	NodeID    string    `json:"node_id" bson:"node_id"`
	NodeType  string    `json:"node_type" bson:"node_type"`
	Success   bool      `json:"success" bson:"success"`
	Error     string    `json:"error,omitempty" bson:"error,omitempty"`
	StartedAt time.Time `json:"started_at" bson:"started_at"`
	EndedAt   time.Time `json:"ended_at" bson:"ended_at"`
}

// Duration returns the wall time of the run, zero while it is running.
func (r *RunRecord) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Finished reports whether the run reached a terminal status.
func (r *RunRecord) Finished() bool {
	return r.Status != workflow.RunStatusRunning
}

// Duration returns the wall time of the node.
func (n NodeRecord) Duration() time.Duration {
	return n.EndedAt.Sub(n.StartedAt)
}

// FromReport converts a runner report into a record.
func FromReport(report workflow.RunReport) *RunRecord {
	rec := &RunRecord{
		RunID:      report.RunID,
		WorkflowID: report.WorkflowID,
		Status:     report.Status,
		Trigger:    report.Trigger,
		Output:     report.Output,
		Error:      report.Error,
		StartedAt:  report.StartedAt,
		EndedAt:    report.EndedAt,
		Nodes:      make([]NodeRecord, len(report.Nodes)),
	}
	for i, n := range report.Nodes {
		rec.Nodes[i] = NodeRecord{
			NodeID:    n.NodeID,
			NodeType:  string(n.NodeType),
			Success:   n.Success,
			Error:     n.Error,
			StartedAt: n.StartedAt,
			EndedAt:   n.EndedAt,
		}
	}
	return rec
}

// Store persists run records. Save is an upsert keyed by RunID. List returns
// runs newest first; an empty workflowID lists every workflow and a limit of
// zero or less means no limit. Purge deletes finished runs that started
// before olderThan and returns how many were removed; running runs are kept.
type Store interface {
	Save(ctx context.Context, rec *RunRecord) error
	Get(ctx context.Context, runID string) (*RunRecord, error)
	List(ctx context.Context, workflowID string, limit int) ([]*RunRecord, error)
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}
