package llm

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const chunkBuffer = 64

// Hub routes inference responses to the subscriber of their request ID.
// Each subscription receives streaming chunks best-effort and exactly one
// terminal response.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[string]*Subscription),
		logger: logger.With(zap.String("component", "inference_hub")),
	}
}

// Subscription receives the responses of one request.
type Subscription struct {
	requestID string
	hub       *Hub
	chunks    chan InferenceResponse
	done      chan InferenceResponse
	once      sync.Once
}

// Subscribe registers interest in requestID. A previous subscription for
// the same ID is replaced.
func (h *Hub) Subscribe(requestID string) *Subscription {
	sub := &Subscription{
		requestID: requestID,
		hub:       h,
		chunks:    make(chan InferenceResponse, chunkBuffer),
		done:      make(chan InferenceResponse, 1),
	}
	h.mu.Lock()
	h.subs[requestID] = sub
	h.mu.Unlock()
	return sub
}

// Publish delivers resp to its subscriber. It reports false when nobody
// is listening or the event was dropped.
func (h *Hub) Publish(resp InferenceResponse) bool {
	h.mu.RLock()
	sub, ok := h.subs[resp.RequestID]
	h.mu.RUnlock()
	if !ok {
		h.logger.Debug("no subscriber for inference response",
			zap.String("request_id", resp.RequestID),
			zap.String("status", string(resp.Status)),
		)
		return false
	}

	target := sub.chunks
	if resp.Status.IsTerminal() {
		target = sub.done
	}
	select {
	case target <- resp:
		return true
	default:
		if resp.Status.IsTerminal() {
			h.logger.Warn("duplicate terminal response dropped", zap.String("request_id", resp.RequestID))
		}
		return false
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.subs[sub.requestID]; ok && cur == sub {
		delete(h.subs, sub.requestID)
	}
}

// RequestID returns the subscribed request ID.
func (s *Subscription) RequestID() string {
	return s.requestID
}

// Chunks streams non-terminal events.
func (s *Subscription) Chunks() <-chan InferenceResponse {
	return s.chunks
}

// Await blocks until the terminal response arrives or ctx is done.
func (s *Subscription) Await(ctx context.Context) (InferenceResponse, error) {
	select {
	case resp := <-s.done:
		return resp, nil
	case <-ctx.Done():
		return InferenceResponse{}, ctx.Err()
	}
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}
