package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/agentgraph/internal/database"
	"github.com/BaSui01/agentgraph/workflow"
)

// runRow maps the workflow_runs table.
type runRow struct {
	RunID          string     `gorm:"column:run_id;primaryKey;size:64"`
	WorkflowID     string     `gorm:"column:workflow_id;size:255;not null;index:idx_workflow_runs_workflow_started,priority:1"`
	Status         string     `gorm:"column:status;size:32;not null"`
	TriggerType    string     `gorm:"column:trigger_type;size:32;not null;default:''"`
	TriggerMessage string     `gorm:"column:trigger_message;type:text;not null;default:''"`
	Output         *string    `gorm:"column:output;type:text"`
	Error          string     `gorm:"column:error;type:text;not null;default:''"`
	StartedAt      time.Time  `gorm:"column:started_at;not null;index:idx_workflow_runs_workflow_started,priority:2;index:idx_workflow_runs_started"`
	EndedAt        *time.Time `gorm:"column:ended_at"`
	DurationMs     int64      `gorm:"column:duration_ms;not null;default:0"`
	Nodes          []nodeRow  `gorm:"foreignKey:RunID;references:RunID;constraint:OnDelete:CASCADE"`
}

func (runRow) TableName() string { return "workflow_runs" }

// nodeRow maps the workflow_node_runs table.
type nodeRow struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	RunID      string    `gorm:"column:run_id;size:64;not null;index:idx_workflow_node_runs_run,priority:1"`
	Seq        int       `gorm:"column:seq;not null;index:idx_workflow_node_runs_run,priority:2"`
	NodeID     string    `gorm:"column:node_id;size:255;not null"`
	NodeType   string    `gorm:"column:node_type;size:64;not null"`
	Success    bool      `gorm:"column:success;not null;default:false"`
	Error      string    `gorm:"column:error;type:text;not null;default:''"`
	StartedAt  time.Time `gorm:"column:started_at;not null"`
	EndedAt    time.Time `gorm:"column:ended_at;not null"`
	DurationMs int64     `gorm:"column:duration_ms;not null;default:0"`
}

func (nodeRow) TableName() string { return "workflow_node_runs" }

// SQLStore stores runs in a relational database through gorm.
type SQLStore struct {
	pool   *database.Pool
	logger *zap.Logger
}

// NewSQLStore creates a store on an open pool. The schema is created by the
// migrations in internal/migration or by AutoMigrate.
func NewSQLStore(pool *database.Pool, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{
		pool:   pool,
		logger: logger.With(zap.String("component", "history_sql")),
	}
}

// AutoMigrate creates or updates the history tables from the row models.
func (s *SQLStore) AutoMigrate(ctx context.Context) error {
	if err := s.pool.DB().WithContext(ctx).AutoMigrate(&runRow{}, &nodeRow{}); err != nil {
		return fmt.Errorf("auto migrate history tables: %w", err)
	}
	return nil
}

func (s *SQLStore) Save(ctx context.Context, rec *RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	row, err := toRunRow(rec)
	if err != nil {
		return err
	}

	err = s.pool.TxRetry(ctx, 3, func(tx *gorm.DB) error {
		err := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "run_id"}},
				UpdateAll: true,
			}).
			Create(&row).Error
		if err != nil {
			return fmt.Errorf("upsert run: %w", err)
		}
		// 节点记录整体替换
		if err := tx.Where("run_id = ?", rec.RunID).Delete(&nodeRow{}).Error; err != nil {
			return fmt.Errorf("clear node runs: %w", err)
		}
		if len(row.Nodes) > 0 {
			if err := tx.Create(&row.Nodes).Error; err != nil {
				return fmt.Errorf("insert node runs: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to save run", zap.String("run_id", rec.RunID), zap.Error(err))
		return err
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, runID string) (*RunRecord, error) {
	var row runRow
	err := s.pool.DB().WithContext(ctx).
		Preload("Nodes", orderBySeq).
		Where("run_id = ?", runID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return fromRunRow(&row), nil
}

func (s *SQLStore) List(ctx context.Context, workflowID string, limit int) ([]*RunRecord, error) {
	q := s.pool.DB().WithContext(ctx).
		Preload("Nodes", orderBySeq).
		Order("started_at DESC").
		Order("run_id DESC")
	if workflowID != "" {
		q = q.Where("workflow_id = ?", workflowID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []runRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]*RunRecord, len(rows))
	for i := range rows {
		out[i] = fromRunRow(&rows[i])
	}
	return out, nil
}

func (s *SQLStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	var purged int64
	err := s.pool.Tx(ctx, func(tx *gorm.DB) error {
		stale := tx.Model(&runRow{}).
			Select("run_id").
			Where("started_at < ? AND status <> ?", olderThan, string(workflow.RunStatusRunning))
		if err := tx.Where("run_id IN (?)", stale).Delete(&nodeRow{}).Error; err != nil {
			return fmt.Errorf("purge node runs: %w", err)
		}
		res := tx.Where("started_at < ? AND status <> ?", olderThan, string(workflow.RunStatusRunning)).
			Delete(&runRow{})
		if res.Error != nil {
			return fmt.Errorf("purge runs: %w", res.Error)
		}
		purged = res.RowsAffected
		return nil
	})
	return purged, err
}

func orderBySeq(db *gorm.DB) *gorm.DB {
	return db.Order("seq ASC")
}

func toRunRow(rec *RunRecord) (runRow, error) {
	row := runRow{
		RunID:          rec.RunID,
		WorkflowID:     rec.WorkflowID,
		Status:         string(rec.Status),
		TriggerType:    rec.Trigger.Type,
		TriggerMessage: rec.Trigger.Message,
		Error:          rec.Error,
		StartedAt:      rec.StartedAt.UTC(),
		DurationMs:     rec.Duration().Milliseconds(),
		Nodes:          make([]nodeRow, len(rec.Nodes)),
	}
	if rec.Output != nil {
		data, err := json.Marshal(rec.Output)
		if err != nil {
			return runRow{}, fmt.Errorf("encode run output: %w", err)
		}
		out := string(data)
		row.Output = &out
	}
	if !rec.EndedAt.IsZero() {
		ended := rec.EndedAt.UTC()
		row.EndedAt = &ended
	}
	for i, n := range rec.Nodes {
		row.Nodes[i] = nodeRow{
			RunID:      rec.RunID,
			Seq:        i,
			NodeID:     n.NodeID,
			NodeType:   n.NodeType,
			Success:    n.Success,
			Error:      n.Error,
			StartedAt:  n.StartedAt.UTC(),
			EndedAt:    n.EndedAt.UTC(),
			DurationMs: n.Duration().Milliseconds(),
		}
	}
	return row, nil
}

func fromRunRow(row *runRow) *RunRecord {
	rec := &RunRecord{
		RunID:      row.RunID,
		WorkflowID: row.WorkflowID,
		Status:     workflow.RunStatus(row.Status),
		Trigger:    workflow.TriggerContext{Type: row.TriggerType, Message: row.TriggerMessage},
		Error:      row.Error,
		StartedAt:  row.StartedAt.UTC(),
		Nodes:      make([]NodeRecord, len(row.Nodes)),
	}
	if row.Output != nil {
		var out any
		if err := json.Unmarshal([]byte(*row.Output), &out); err == nil {
			rec.Output = out
		} else {
			rec.Output = *row.Output
		}
	}
	if row.EndedAt != nil {
		rec.EndedAt = row.EndedAt.UTC()
	}
	for i, n := range row.Nodes {
		rec.Nodes[i] = NodeRecord{
			NodeID:    n.NodeID,
			NodeType:  n.NodeType,
			Success:   n.Success,
			Error:     n.Error,
			StartedAt: n.StartedAt.UTC(),
			EndedAt:   n.EndedAt.UTC(),
		}
	}
	return rec
}
