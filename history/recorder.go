package history

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/workflow"
)

var _ workflow.HistoryRecorder = (*Recorder)(nil)

// Recorder adapts a Store to workflow.HistoryRecorder.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, logger: logger.With(zap.String("component", "history_recorder"))}
}

// RecordRun saves the report. The runner calls it with a context that may
// already be cancelled when the run was aborted, so the final write detaches
// from cancellation.
func (r *Recorder) RecordRun(ctx context.Context, report workflow.RunReport) error {
	if report.Status != workflow.RunStatusRunning {
		ctx = context.WithoutCancel(ctx)
	}
	if err := r.store.Save(ctx, FromReport(report)); err != nil {
		r.logger.Warn("failed to record run",
			zap.String("run_id", report.RunID),
			zap.String("workflow_id", report.WorkflowID),
			zap.String("status", string(report.Status)),
			zap.Error(err))
		return err
	}
	return nil
}
