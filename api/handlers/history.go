package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/api"
	"github.com/BaSui01/agentgraph/history"
	"github.com/BaSui01/agentgraph/types"
)

const (
	defaultRunListLimit = 20
	maxRunListLimit     = 200
)

// HistoryHandler 提供运行历史查询
type HistoryHandler struct {
	store  history.Store
	logger *zap.Logger
}

// NewHistoryHandler 创建运行历史处理器
func NewHistoryHandler(store history.Store, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{
		store:  store,
		logger: logger.With(zap.String("component", "history_handler")),
	}
}

// HandleListRuns 列出工作流最近的运行，最新在前
// GET /api/v1/workflows/{id}/runs?limit=N
func (h *HistoryHandler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit, err := queryLimit(r, defaultRunListLimit, maxRunListLimit)
	if err != nil {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, err.Error(), h.logger)
		return
	}

	runs, err := h.store.List(r.Context(), id, limit)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrInternalError, "list runs failed").WithCause(err), h.logger)
		return
	}
	if runs == nil {
		runs = []*history.RunRecord{}
	}
	WriteSuccess(w, r, api.RunListResponse{WorkflowID: id, Runs: runs})
}

// HandleGetRun 返回单次运行的记录
// GET /api/v1/runs/{runID}
func (h *HistoryHandler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")

	rec, err := h.store.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			WriteErrorMessage(w, r, http.StatusNotFound, types.ErrNotFound, "run "+runID+" not found", h.logger)
			return
		}
		WriteError(w, r, types.NewError(types.ErrInternalError, "get run failed").WithCause(err), h.logger)
		return
	}
	WriteSuccess(w, r, rec)
}
