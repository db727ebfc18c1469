package handlers

import (
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/api"
	"github.com/BaSui01/agentgraph/llm/tokenizer"
	"github.com/BaSui01/agentgraph/types"
)

// TokenHandler 提供令牌计数
type TokenHandler struct {
	logger *zap.Logger

	mu         sync.Mutex
	tokenizers map[tokenizer.ModelType]tokenizer.Tokenizer
}

// NewTokenHandler 创建令牌计数处理器
func NewTokenHandler(logger *zap.Logger) *TokenHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenHandler{
		logger:     logger.With(zap.String("component", "token_handler")),
		tokenizers: make(map[tokenizer.ModelType]tokenizer.Tokenizer),
	}
}

// HandleCount 统计文本在指定模型族下的令牌数
// POST /api/v1/tokens/count
func (h *TokenHandler) HandleCount(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.TokenCountRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	mt, err := tokenizer.ParseModelType(req.ModelType)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrInvalidRequest, err.Error()).WithCause(err), h.logger)
		return
	}

	res, err := tokenizer.Count(h.tokenizerFor(mt), mt, req.Text)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrTokenizerError, "failed to count tokens").WithCause(err), h.logger)
		return
	}

	WriteSuccess(w, r, api.TokenCountResponse{
		Count:     res.Count,
		Model:     string(res.Model),
		Tokenizer: res.Tokenizer,
	})
}

// tokenizerFor 按模型族缓存分词器，编码表只加载一次
func (h *TokenHandler) tokenizerFor(mt tokenizer.ModelType) tokenizer.Tokenizer {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tokenizers[mt]
	if !ok {
		t = tokenizer.ForModelType(mt, h.logger)
		h.tokenizers[mt] = t
	}
	return t
}
