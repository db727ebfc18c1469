package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/api"
	"github.com/BaSui01/agentgraph/history"
	"github.com/BaSui01/agentgraph/workflow"
)

type brokenStore struct {
	history.Store
}

func (brokenStore) List(context.Context, string, int) ([]*history.RunRecord, error) {
	return nil, errors.New("store offline")
}

func (brokenStore) Get(context.Context, string) (*history.RunRecord, error) {
	return nil, errors.New("store offline")
}

func newHistoryMux(h *HistoryHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/workflows/{id}/runs", h.HandleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{runID}", h.HandleGetRun)
	return mux
}

func seedRuns(t *testing.T, store history.Store) {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, store.Save(context.Background(), &history.RunRecord{
			RunID:      id,
			WorkflowID: "echo",
			Status:     workflow.RunStatusCompleted,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			EndedAt:    base.Add(time.Duration(i)*time.Minute + time.Second),
		}))
	}
	require.NoError(t, store.Save(context.Background(), &history.RunRecord{
		RunID:      "other-1",
		WorkflowID: "other",
		Status:     workflow.RunStatusFailed,
		Error:      "boom",
		StartedAt:  base,
	}))
}

func TestHistoryHandler_ListRuns(t *testing.T) {
	store := history.NewMemoryStore(0)
	seedRuns(t, store)
	mux := newHistoryMux(NewHistoryHandler(store, zap.NewNop()))

	_, resp := doJSON(t, mux, http.MethodGet, "/api/v1/workflows/echo/runs", "")
	require.True(t, resp.Success)

	var list api.RunListResponse
	decodeData(t, resp, &list)
	assert.Equal(t, "echo", list.WorkflowID)
	require.Len(t, list.Runs, 3)
	assert.Equal(t, "r3", list.Runs[0].RunID)
	assert.Equal(t, "r1", list.Runs[2].RunID)

	_, resp = doJSON(t, mux, http.MethodGet, "/api/v1/workflows/echo/runs?limit=1", "")
	list = api.RunListResponse{}
	decodeData(t, resp, &list)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, "r3", list.Runs[0].RunID)

	_, resp = doJSON(t, mux, http.MethodGet, "/api/v1/workflows/nobody/runs", "")
	list = api.RunListResponse{}
	decodeData(t, resp, &list)
	assert.NotNil(t, list.Runs)
	assert.Empty(t, list.Runs)
}

func TestHistoryHandler_ListRunsBadLimit(t *testing.T) {
	mux := newHistoryMux(NewHistoryHandler(history.NewMemoryStore(0), zap.NewNop()))

	w, resp := doJSON(t, mux, http.MethodGet, "/api/v1/workflows/echo/runs?limit=nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "INVALID_REQUEST", resp.Error.Code)
}

func TestHistoryHandler_GetRun(t *testing.T) {
	store := history.NewMemoryStore(0)
	seedRuns(t, store)
	mux := newHistoryMux(NewHistoryHandler(store, zap.NewNop()))

	w, resp := doJSON(t, mux, http.MethodGet, "/api/v1/runs/other-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var rec history.RunRecord
	decodeData(t, resp, &rec)
	assert.Equal(t, "other", rec.WorkflowID)
	assert.Equal(t, workflow.RunStatusFailed, rec.Status)
	assert.Equal(t, "boom", rec.Error)

	w, resp = doJSON(t, mux, http.MethodGet, "/api/v1/runs/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestHistoryHandler_StoreFailure(t *testing.T) {
	mux := newHistoryMux(NewHistoryHandler(brokenStore{}, zap.NewNop()))

	w, resp := doJSON(t, mux, http.MethodGet, "/api/v1/workflows/echo/runs", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)

	w, _ = doJSON(t, mux, http.MethodGet, "/api/v1/runs/r1", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
