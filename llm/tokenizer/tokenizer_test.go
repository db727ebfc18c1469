package tokenizer

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentgraph/types"
)

type brokenTokenizer struct{}

func (brokenTokenizer) CountTokens(string) (int, error) {
	return 0, errors.New("vocabulary unavailable")
}

func (brokenTokenizer) CountMessages([]types.Message) (int, error) {
	return 0, errors.New("vocabulary unavailable")
}

func (brokenTokenizer) Name() string { return "broken" }

func TestParseModelType(t *testing.T) {
	tests := []struct {
		in      string
		want    ModelType
		wantErr bool
	}{
		{in: "", want: ModelDefault},
		{in: "Llama3", want: ModelLlama3},
		{in: " mistral ", want: ModelMistral},
		{in: "DEFAULT", want: ModelDefault},
		{in: "gpt-9", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseModelType(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestForModelType(t *testing.T) {
	for _, mt := range []ModelType{ModelLlama2, ModelLlama3, ModelDeepseek, ModelMistral} {
		tok := ForModelType(mt, zap.NewNop())
		assert.IsType(t, &EstimatorTokenizer{}, tok, mt)
	}
	assert.IsType(t, &FallbackTokenizer{}, ForModelType(ModelDefault, nil))
}

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer("test")

	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, _ = e.CountTokens("a")
	assert.Equal(t, 1, n, "non-empty text is at least one token")

	n, _ = e.CountTokens(strings.Repeat("abcd", 10))
	assert.Equal(t, 10, n)

	n, _ = e.CountTokens("你好世界你好世")
	assert.Equal(t, 4, n)
}

func TestEstimator_CountMessages(t *testing.T) {
	e := NewEstimatorTokenizer("")
	n, err := e.CountMessages([]types.Message{
		types.NewUserMessage(strings.Repeat("abcd", 2)),
		types.NewAssistantMessage(""),
	})
	require.NoError(t, err)
	assert.Equal(t, (2+4)+(0+4)+3, n)
	assert.Equal(t, "estimator", e.Name())
}

func TestFallbackTokenizer_UsesFallbackOnError(t *testing.T) {
	f := NewFallbackTokenizer(brokenTokenizer{}, NewEstimatorTokenizer("x"), zap.NewNop())

	n, err := f.CountTokens(strings.Repeat("abcd", 3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.CountMessages([]types.Message{types.NewUserMessage("abcd")})
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, "broken", f.Name())
}

func TestCount(t *testing.T) {
	res, err := Count(NewEstimatorTokenizer("llama3"), ModelLlama3, "abcdabcd")
	require.NoError(t, err)
	assert.Equal(t, CountResult{Count: 2, Model: ModelLlama3, Tokenizer: "estimator[llama3]"}, res)

	_, err = Count(brokenTokenizer{}, ModelDefault, "x")
	assert.Error(t, err)
}

func TestProperty_EstimateIsMonotonicInLength(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := rapid.String().Draw(rt, "base")
		extra := rapid.String().Draw(rt, "extra")
		e := NewEstimatorTokenizer("")

		a, _ := e.CountTokens(base)
		b, _ := e.CountTokens(base + extra)
		assert.GreaterOrEqual(rt, b, a)
	})
}
