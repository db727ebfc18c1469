package history

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Multi writes to every store and reads from the first store that has the
// run. A typical setup puts a MemoryStore in front of a durable backend.
type Multi struct {
	stores []Store
}

// NewMulti combines stores. At least one store is required.
func NewMulti(primary Store, others ...Store) *Multi {
	return &Multi{stores: append([]Store{primary}, others...)}
}

// Save writes rec to all stores concurrently.
func (m *Multi) Save(ctx context.Context, rec *RunRecord) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.stores {
		s := s
		g.Go(func() error { return s.Save(gctx, rec) })
	}
	return g.Wait()
}

// Get returns the run from the first store that knows it.
func (m *Multi) Get(ctx context.Context, runID string) (*RunRecord, error) {
	for _, s := range m.stores {
		rec, err := s.Get(ctx, runID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

// List reads from the last store, which is expected to be the most complete.
func (m *Multi) List(ctx context.Context, workflowID string, limit int) ([]*RunRecord, error) {
	return m.stores[len(m.stores)-1].List(ctx, workflowID, limit)
}

// Purge purges all stores concurrently and returns the largest count.
func (m *Multi) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	var max atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.stores {
		s := s
		g.Go(func() error {
			n, err := s.Purge(gctx, olderThan)
			if err != nil {
				return err
			}
			for {
				cur := max.Load()
				if n <= cur || max.CompareAndSwap(cur, n) {
					return nil
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return max.Load(), nil
}
