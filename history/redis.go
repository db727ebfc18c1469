package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/internal/cache"
)

// RedisStore keeps each run as a JSON document under <prefix>:run:<id> and
// indexes run ids in sorted sets scored by start time (unix milliseconds):
// <prefix>:runs for every run and <prefix>:runs:<workflowID> per workflow.
// Documents expire after ttl when it is positive; index entries pointing at
// expired documents are dropped lazily by List and Purge.
type RedisStore struct {
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore creates a store on a connected cache manager.
func NewRedisStore(manager *cache.Manager, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		cache:  manager,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "history_redis")),
	}
}

func (s *RedisStore) runKey(runID string) string {
	return s.cache.Key("run", runID)
}

func (s *RedisStore) allIndex() string {
	return s.cache.Key("runs")
}

func (s *RedisStore) workflowIndex(workflowID string) string {
	return s.cache.Key("runs", workflowID)
}

func (s *RedisStore) Save(ctx context.Context, rec *RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	score := float64(rec.StartedAt.UnixMilli())
	err := s.cache.SetJSONIndexed(ctx, s.runKey(rec.RunID), rec, s.ttl,
		rec.RunID, score, s.allIndex(), s.workflowIndex(rec.WorkflowID))
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.RunID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, runID string) (*RunRecord, error) {
	var rec RunRecord
	if err := s.cache.GetJSON(ctx, s.runKey(runID), &rec); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &rec, nil
}

func (s *RedisStore) List(ctx context.Context, workflowID string, limit int) ([]*RunRecord, error) {
	index := s.allIndex()
	if workflowID != "" {
		index = s.workflowIndex(workflowID)
	}

	ids, err := s.cache.IndexNewest(ctx, index, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	recs, stale, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		if err := s.cache.Unindex(ctx, index, stale); err != nil {
			s.logger.Warn("failed to drop expired index entries", zap.Error(err))
		}
	}
	return recs, nil
}

func (s *RedisStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	ids, err := s.cache.IndexBelow(ctx, s.allIndex(), float64(olderThan.UnixMilli()))
	if err != nil {
		return 0, fmt.Errorf("purge runs: %w", err)
	}
	recs, stale, err := s.load(ctx, ids)
	if err != nil {
		return 0, err
	}

	byWorkflow := make(map[string][]string)
	var purged []string
	for _, rec := range recs {
		if !rec.Finished() {
			continue
		}
		byWorkflow[rec.WorkflowID] = append(byWorkflow[rec.WorkflowID], rec.RunID)
		purged = append(purged, rec.RunID)
	}

	for workflowID, runIDs := range byWorkflow {
		docKeys := make([]string, len(runIDs))
		for i, id := range runIDs {
			docKeys[i] = s.runKey(id)
		}
		if err := s.cache.Unindex(ctx, s.workflowIndex(workflowID), runIDs, docKeys...); err != nil {
			return 0, fmt.Errorf("purge runs of %s: %w", workflowID, err)
		}
	}
	if err := s.cache.Unindex(ctx, s.allIndex(), append(purged, stale...)); err != nil {
		return 0, fmt.Errorf("purge run index: %w", err)
	}
	return int64(len(purged)), nil
}

// load fetches run documents in index order. Ids whose document has expired
// are returned as stale.
func (s *RedisStore) load(ctx context.Context, ids []string) ([]*RunRecord, []string, error) {
	if len(ids) == 0 {
		return []*RunRecord{}, nil, nil
	}
	keys := make([]string, len(ids))
	idByKey := make(map[string]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(id)
		idByKey[keys[i]] = id
	}

	recs := make([]*RunRecord, 0, len(ids))
	missing, err := s.cache.MGetJSON(ctx, keys, func(key string, data []byte) error {
		var rec RunRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode run %s: %w", idByKey[key], err)
		}
		recs = append(recs, &rec)
		return nil
	})
	if err != nil {
		if errors.Is(err, cache.ErrClosed) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("load runs: %w", err)
	}

	stale := make([]string, len(missing))
	for i, key := range missing {
		stale[i] = idByKey[key]
	}
	return recs, stale, nil
}
