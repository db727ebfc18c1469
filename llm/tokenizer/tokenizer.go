package tokenizer

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/types"
)

// Tokenizer 是统一的 token 计数接口.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []types.Message) (int, error)

	// Name 返回分词器的名称.
	Name() string
}

// ModelType 是计数时使用的模型家族.
type ModelType string

const (
	ModelLlama2   ModelType = "llama2"
	ModelLlama3   ModelType = "llama3"
	ModelDeepseek ModelType = "deepseek"
	ModelMistral  ModelType = "mistral"
	ModelDefault  ModelType = "default"
)

// ParseModelType 解析模型家族名称（大小写不敏感），空字符串视为 default.
func ParseModelType(s string) (ModelType, error) {
	switch mt := ModelType(strings.ToLower(strings.TrimSpace(s))); mt {
	case "":
		return ModelDefault, nil
	case ModelLlama2, ModelLlama3, ModelDeepseek, ModelMistral, ModelDefault:
		return mt, nil
	default:
		return "", fmt.Errorf("unsupported model type: %s", s)
	}
}

// ForModelType 返回该模型家族的分词器.
// Llama / Mistral / Deepseek 没有本地 BPE 词表，使用估算器；
// 其余使用 cl100k_base，并在词表不可用时回退到估算器。
func ForModelType(mt ModelType, logger *zap.Logger) Tokenizer {
	switch mt {
	case ModelLlama2, ModelLlama3, ModelDeepseek, ModelMistral:
		return NewEstimatorTokenizer(string(mt))
	default:
		return NewFallbackTokenizer(NewTiktokenTokenizer("cl100k_base"), NewEstimatorTokenizer(string(ModelDefault)), logger)
	}
}

// CountResult 是一次计数的结果.
type CountResult struct {
	Count     int       `json:"count"`
	Model     ModelType `json:"model"`
	Tokenizer string    `json:"tokenizer"`
}

// Count 使用 t 统计 text 的 token 数.
func Count(t Tokenizer, mt ModelType, text string) (CountResult, error) {
	n, err := t.CountTokens(text)
	if err != nil {
		return CountResult{}, fmt.Errorf("failed to count tokens: %w", err)
	}
	return CountResult{Count: n, Model: mt, Tokenizer: t.Name()}, nil
}

// FallbackTokenizer 优先使用 primary，出错时改用 fallback.
type FallbackTokenizer struct {
	primary  Tokenizer
	fallback Tokenizer
	logger   *zap.Logger
}

// NewFallbackTokenizer 创建带回退的分词器.
func NewFallbackTokenizer(primary, fallback Tokenizer, logger *zap.Logger) *FallbackTokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackTokenizer{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With(zap.String("component", "tokenizer")),
	}
}

func (f *FallbackTokenizer) CountTokens(text string) (int, error) {
	n, err := f.primary.CountTokens(text)
	if err == nil {
		return n, nil
	}
	f.logger.Debug("primary tokenizer unavailable, estimating",
		zap.String("tokenizer", f.primary.Name()),
		zap.Error(err),
	)
	return f.fallback.CountTokens(text)
}

func (f *FallbackTokenizer) CountMessages(messages []types.Message) (int, error) {
	n, err := f.primary.CountMessages(messages)
	if err == nil {
		return n, nil
	}
	return f.fallback.CountMessages(messages)
}

func (f *FallbackTokenizer) Name() string {
	return f.primary.Name()
}
