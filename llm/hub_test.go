package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHub_DeliversTerminalResponse(t *testing.T) {
	hub := NewHub(zap.NewNop())
	sub := hub.Subscribe("req-1")
	defer sub.Close()

	assert.True(t, hub.Publish(InferenceResponse{RequestID: "req-1", Status: StatusCompleted, Result: map[string]any{"text": "hi"}}))

	resp, err := sub.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, "hi", resp.Text())
}

func TestHub_StreamingChunksDoNotResolveAwait(t *testing.T) {
	hub := NewHub(zap.NewNop())
	sub := hub.Subscribe("req-1")
	defer sub.Close()

	hub.Publish(InferenceResponse{RequestID: "req-1", Status: StatusStreaming, Result: map[string]any{"text": "h"}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := sub.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	chunk := <-sub.Chunks()
	assert.Equal(t, "h", chunk.Text())
}

func TestHub_OnlyFirstTerminalResponseIsKept(t *testing.T) {
	hub := NewHub(zap.NewNop())
	sub := hub.Subscribe("req-1")
	defer sub.Close()

	assert.True(t, hub.Publish(InferenceResponse{RequestID: "req-1", Status: StatusCancelled}))
	assert.False(t, hub.Publish(InferenceResponse{RequestID: "req-1", Status: StatusCompleted}))

	resp, err := sub.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, resp.Status)
}

func TestHub_UnknownRequestIsDropped(t *testing.T) {
	hub := NewHub(nil)
	assert.False(t, hub.Publish(InferenceResponse{RequestID: "nobody", Status: StatusCompleted}))
}

func TestHub_CloseRemovesOnlyItsOwnSubscription(t *testing.T) {
	hub := NewHub(zap.NewNop())
	old := hub.Subscribe("req-1")
	current := hub.Subscribe("req-1")

	old.Close()
	assert.Equal(t, 1, hub.Subscribers())

	current.Close()
	current.Close()
	assert.Zero(t, hub.Subscribers())
}
