package inference

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/agentgraph/llm"
)

// DefaultQueueCapacity is the number of requests a model queue buffers.
const DefaultQueueCapacity = 100

var (
	// ErrQueueFull is returned when a model's queue has no free slot.
	ErrQueueFull = errors.New("inference queue is full")

	// ErrQueueClosed is returned after Shutdown.
	ErrQueueClosed = errors.New("inference queue manager is shut down")
)

// Metrics receives queue measurements.
type Metrics interface {
	SetQueueDepth(modelID string, depth int)
	RecordInference(engine string, status llm.Status, duration time.Duration)
}

// QueueStats is a snapshot of one model queue.
type QueueStats struct {
	ModelID       string `json:"model_id"`
	Engine        string `json:"engine"`
	Active        int    `json:"active"`
	MaxConcurrent int    `json:"max_concurrent"`
}

type job struct {
	req llm.InferenceRequest
	ctx context.Context
}

type modelQueue struct {
	spec  llm.ModelSpec
	jobs  chan job
	sem   *semaphore.Weighted
	limit int64

	mu     sync.Mutex
	active map[string]context.CancelFunc

	tasks sync.WaitGroup
	done  chan struct{}
}

func (q *modelQueue) track(id string, cancel context.CancelFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active[id] = cancel
}

// untrack removes id and reports whether it was still tracked.
func (q *modelQueue) untrack(id string) (context.CancelFunc, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cancel, ok := q.active[id]
	if ok {
		delete(q.active, id)
	}
	return cancel, ok
}

func (q *modelQueue) activeCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// QueueManager runs inference requests through per-model queues with
// bounded concurrency. It implements llm.Backend.
type QueueManager struct {
	mu       sync.Mutex
	queues   map[string]*modelQueue
	closed   bool
	capacity int

	engines *Engines
	hub     *llm.Hub
	logger  *zap.Logger
	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a QueueManager.
type Option func(*QueueManager)

// WithQueueCapacity overrides DefaultQueueCapacity.
func WithQueueCapacity(n int) Option {
	return func(m *QueueManager) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *QueueManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics Metrics) Option {
	return func(m *QueueManager) { m.metrics = metrics }
}

// NewQueueManager creates a manager dispatching to engines and publishing
// responses on hub.
func NewQueueManager(engines *Engines, hub *llm.Hub, opts ...Option) *QueueManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &QueueManager{
		queues:   make(map[string]*modelQueue),
		capacity: DefaultQueueCapacity,
		engines:  engines,
		hub:      hub,
		logger:   zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "inference_queue"))
	return m
}

// Submit queues req on the queue of model, creating the queue on first
// use. It returns the request ID (generated when req.ID is empty).
func (m *QueueManager) Submit(ctx context.Context, req llm.InferenceRequest, model llm.ModelSpec) (string, error) {
	if model.ID == "" {
		return "", fmt.Errorf("model id is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrQueueClosed
	}

	q, ok := m.queues[model.ID]
	if !ok {
		q = m.startQueue(model)
		m.queues[model.ID] = q
	}

	taskCtx, cancel := context.WithCancel(m.ctx)
	q.track(req.ID, cancel)
	select {
	case q.jobs <- job{req: req, ctx: taskCtx}:
	default:
		q.untrack(req.ID)
		cancel()
		return "", fmt.Errorf("%w: model %s", ErrQueueFull, model.ID)
	}

	if m.metrics != nil {
		m.metrics.SetQueueDepth(model.ID, len(q.jobs))
	}
	m.logger.Debug("inference request queued",
		zap.String("request_id", req.ID),
		zap.String("model_id", model.ID),
		zap.Int("depth", len(q.jobs)),
	)
	return req.ID, nil
}

// Cancel aborts a queued or running request and publishes a cancelled
// response. It reports false when the request is unknown or finished.
func (m *QueueManager) Cancel(_ context.Context, modelID, requestID string) bool {
	m.mu.Lock()
	q, ok := m.queues[modelID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	cancel, ok := q.untrack(requestID)
	if !ok {
		return false
	}
	cancel()
	m.hub.Publish(llm.InferenceResponse{
		RequestID: requestID,
		Status:    llm.StatusCancelled,
		Error:     "Request was cancelled",
	})
	m.logger.Info("inference request cancelled",
		zap.String("request_id", requestID),
		zap.String("model_id", modelID),
	)
	return true
}

// CleanEmptyQueues removes queues with no queued or running requests and
// returns how many were removed.
func (m *QueueManager) CleanEmptyQueues() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, q := range m.queues {
		if q.activeCount() == 0 && len(q.jobs) == 0 {
			close(q.jobs)
			delete(m.queues, id)
			removed++
			m.logger.Debug("removed empty queue", zap.String("model_id", id))
		}
	}
	return removed
}

// Stats returns a snapshot of every queue, sorted by model ID.
func (m *QueueManager) Stats() []QueueStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]QueueStats, 0, len(m.queues))
	for id, q := range m.queues {
		out = append(out, QueueStats{
			ModelID:       id,
			Engine:        q.spec.Engine,
			Active:        q.activeCount(),
			MaxConcurrent: int(q.limit),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// Shutdown stops accepting requests and waits for in-flight ones. When
// ctx ends first, the remaining requests are aborted.
func (m *QueueManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	queues := make([]*modelQueue, 0, len(m.queues))
	for id, q := range m.queues {
		close(q.jobs)
		queues = append(queues, q)
		delete(m.queues, id)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queues {
		g.Go(func() error {
			select {
			case <-q.done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	err := g.Wait()
	m.cancel()
	return err
}

func (m *QueueManager) startQueue(spec llm.ModelSpec) *modelQueue {
	limit := int64(spec.MaxConcurrentRequests)
	if limit < 1 {
		limit = 1
	}
	q := &modelQueue{
		spec:   spec,
		jobs:   make(chan job, m.capacity),
		sem:    semaphore.NewWeighted(limit),
		limit:  limit,
		active: make(map[string]context.CancelFunc),
		done:   make(chan struct{}),
	}
	m.logger.Info("created inference queue",
		zap.String("model_id", spec.ID),
		zap.String("engine", spec.Engine),
		zap.Int64("max_concurrent", limit),
	)
	go m.dispatch(q)
	return q
}

func (m *QueueManager) dispatch(q *modelQueue) {
	defer close(q.done)
	defer q.tasks.Wait()

	for j := range q.jobs {
		if j.ctx.Err() != nil {
			m.finishAborted(q, j.req.ID)
			continue
		}
		if err := q.sem.Acquire(j.ctx, 1); err != nil {
			m.finishAborted(q, j.req.ID)
			continue
		}
		if m.metrics != nil {
			m.metrics.SetQueueDepth(q.spec.ID, len(q.jobs))
		}
		q.tasks.Add(1)
		go m.process(q, j)
	}
}

func (m *QueueManager) process(q *modelQueue, j job) {
	defer q.tasks.Done()
	defer q.sem.Release(1)

	req := j.req
	start := time.Now()
	logger := m.logger.With(zap.String("request_id", req.ID), zap.String("model_id", q.spec.ID))

	out, err := m.run(j.ctx, q.spec, req)

	cancel, stillTracked := q.untrack(req.ID)
	if cancel != nil {
		cancel()
	}

	status := llm.StatusCompleted
	switch {
	case j.ctx.Err() != nil:
		status = llm.StatusCancelled
		if stillTracked {
			// aborted by Shutdown rather than Cancel
			m.hub.Publish(llm.InferenceResponse{RequestID: req.ID, Status: llm.StatusCancelled, Error: "Request was cancelled"})
		}
	case err != nil:
		status = llm.StatusError
		logger.Warn("inference failed", zap.Error(err))
		if stillTracked {
			m.hub.Publish(llm.InferenceResponse{RequestID: req.ID, Status: llm.StatusError, Error: llm.ErrorPayload(err)})
		}
	default:
		if stillTracked {
			m.hub.Publish(llm.InferenceResponse{RequestID: req.ID, Status: llm.StatusCompleted, Result: completedResult(req.Stream, out)})
		}
		logger.Debug("inference completed", zap.Duration("duration", time.Since(start)))
	}

	if m.metrics != nil {
		m.metrics.RecordInference(q.spec.Engine, status, time.Since(start))
	}
}

func (m *QueueManager) run(ctx context.Context, spec llm.ModelSpec, req llm.InferenceRequest) (*Output, error) {
	engine, err := m.engines.Get(spec.Engine)
	if err != nil {
		return nil, err
	}

	var sink ChunkSink
	if req.Stream {
		sink = func(kind ChunkKind, delta string) {
			m.hub.Publish(llm.InferenceResponse{
				RequestID: req.ID,
				Status:    llm.StatusStreaming,
				Result:    map[string]any{string(kind): delta},
			})
		}
	}

	out, err := engine.Infer(ctx, req, spec, sink)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = &Output{}
	}
	return out, nil
}

func (m *QueueManager) finishAborted(q *modelQueue, requestID string) {
	if _, ok := q.untrack(requestID); ok {
		m.hub.Publish(llm.InferenceResponse{RequestID: requestID, Status: llm.StatusCancelled, Error: "Request was cancelled"})
	}
}

func completedResult(stream bool, out *Output) map[string]any {
	var result map[string]any
	if stream {
		result = map[string]any{"full_response": out.Text}
		if out.Reasoning != "" {
			result["reasoning"] = out.Reasoning
		}
	} else {
		result = map[string]any{"text": out.Text}
	}
	if len(out.ToolCalls) > 0 {
		result["tool_calls"] = out.ToolCalls
	}
	return result
}
