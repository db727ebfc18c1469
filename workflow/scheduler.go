package workflow

import (
	"sort"
	"sync"
)

// WorkflowScheduler tracks the active run of each workflow so that runs can
// be queried and cancelled out of band. One scheduler is created per
// application and shared by reference.
//
// Registration is last-writer-wins: registering a second run for the same
// workflow replaces the tracking of the first.
type WorkflowScheduler struct {
	mu   sync.RWMutex
	runs map[string]*ExecutionContext
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *WorkflowScheduler {
	return &WorkflowScheduler{runs: make(map[string]*ExecutionContext)}
}

// Register tracks ctx under key and returns the context it replaced, if any.
func (s *WorkflowScheduler) Register(key string, ctx *ExecutionContext) *ExecutionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.runs[key]
	s.runs[key] = ctx
	return prev
}

// Get returns the context tracked under key.
func (s *WorkflowScheduler) Get(key string) (*ExecutionContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.runs[key]
	return ctx, ok
}

// Remove stops tracking key.
func (s *WorkflowScheduler) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, key)
}

// RemoveIf stops tracking key only while it still maps to ctx. A run that
// was replaced by a newer registration leaves the newer one in place.
func (s *WorkflowScheduler) RemoveIf(key string, ctx *ExecutionContext) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.runs[key]; ok && cur == ctx {
		delete(s.runs, key)
		return true
	}
	return false
}

// Cancel clears the running flag of the run tracked under key. It is a
// no-op when nothing is tracked and reports whether a run was signalled.
func (s *WorkflowScheduler) Cancel(key string) bool {
	ctx, ok := s.Get(key)
	if !ok {
		return false
	}
	ctx.Stop()
	return true
}

// IsRunning reports whether a run is tracked under key and not stopped.
func (s *WorkflowScheduler) IsRunning(key string) bool {
	ctx, ok := s.Get(key)
	return ok && ctx.IsRunning()
}

// Active returns the keys of all tracked runs, sorted.
func (s *WorkflowScheduler) Active() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.runs))
	for k := range s.runs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
