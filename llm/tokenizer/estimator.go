package tokenizer

import (
	"unicode/utf8"

	"github.com/BaSui01/agentgraph/types"
)

// EstimatorTokenizer estimates token counts from character classes:
// CJK text runs at about 1.5 characters per token, other text at about 4.
type EstimatorTokenizer struct {
	model string
}

// NewEstimatorTokenizer creates an estimator labelled with model.
func NewEstimatorTokenizer(model string) *EstimatorTokenizer {
	return &EstimatorTokenizer{model: model}
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}

	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}

	estimated := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated, nil
}

func (e *EstimatorTokenizer) CountMessages(messages []types.Message) (int, error) {
	total := 0
	for _, msg := range messages {
		n, err := e.CountTokens(msg.Content)
		if err != nil {
			return 0, err
		}
		total += n + 4
	}
	return total + 3, nil
}

func (e *EstimatorTokenizer) Name() string {
	if e.model == "" {
		return "estimator"
	}
	return "estimator[" + e.model + "]"
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}
