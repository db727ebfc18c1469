package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps runs in process. When more than maxRuns runs are held the
// oldest finished runs are evicted.
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]*RunRecord
	maxRuns int
}

// NewMemoryStore creates a memory store. maxRuns <= 0 disables eviction.
func NewMemoryStore(maxRuns int) *MemoryStore {
	return &MemoryStore{
		runs:    make(map[string]*RunRecord),
		maxRuns: maxRuns,
	}
}

func (s *MemoryStore) Save(ctx context.Context, rec *RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[rec.RunID] = cloneRecord(rec)
	s.evictLocked()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) List(ctx context.Context, workflowID string, limit int) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*RunRecord, 0)
	for _, rec := range s.runs {
		if workflowID == "" || rec.WorkflowID == workflowID {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i, rec := range out {
		out[i] = cloneRecord(rec)
	}
	return out, nil
}

func (s *MemoryStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.runs {
		if rec.Finished() && rec.StartedAt.Before(olderThan) {
			delete(s.runs, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored runs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

func (s *MemoryStore) evictLocked() {
	if s.maxRuns <= 0 || len(s.runs) <= s.maxRuns {
		return
	}
	finished := make([]*RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		if rec.Finished() {
			finished = append(finished, rec)
		}
	}
	sortNewestFirst(finished)
	for i := len(finished) - 1; i >= 0 && len(s.runs) > s.maxRuns; i-- {
		delete(s.runs, finished[i].RunID)
	}
}

func sortNewestFirst(recs []*RunRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].StartedAt.Equal(recs[j].StartedAt) {
			return recs[i].RunID > recs[j].RunID
		}
		return recs[i].StartedAt.After(recs[j].StartedAt)
	})
}

func cloneRecord(rec *RunRecord) *RunRecord {
	out := *rec
	out.Nodes = make([]NodeRecord, len(rec.Nodes))
	copy(out.Nodes, rec.Nodes)
	return &out
}
