package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/internal/tlsutil"
	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/types"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-3.5-turbo"
	defaultEngineTimeout = 120 * time.Second
)

// OpenAICompatEngine talks to any service exposing the OpenAI
// /chat/completions and /completions endpoints.
//
// Per-model settings come from ModelSpec.Config: "model", "base_url" and
// "api_key" override the engine defaults.
type OpenAICompatEngine struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewOpenAICompatEngine creates the engine.
func NewOpenAICompatEngine(cfg EngineConfig, logger *zap.Logger) *OpenAICompatEngine {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultEngineTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAICompatEngine{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  tlsutil.SecureHTTPClient(cfg.Timeout),
		logger:  logger.With(zap.String("component", "openai_compat_engine")),
	}
}

// --- wire types ---

type wireFunction struct {
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type wireToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function wireFunction `json:"function"`
}

type wireMessage struct {
	Role             string         `json:"role,omitempty"`
	Content          string         `json:"content"`
	Name             string         `json:"name,omitempty"`
	ToolCalls        []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string         `json:"tool_call_id,omitempty"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
	Reasoning        string         `json:"reasoning,omitempty"`
}

type wireToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireTool struct {
	Type     string      `json:"type"`
	Function wireToolDef `json:"function"`
}

type wireRequest struct {
	Model            string        `json:"model"`
	Messages         []wireMessage `json:"messages,omitempty"`
	Prompt           string        `json:"prompt,omitempty"`
	Tools            []wireTool    `json:"tools,omitempty"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	Temperature      *float64      `json:"temperature,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	Seed             *int64        `json:"seed,omitempty"`
	Stop             []string      `json:"stop,omitempty"`
	Stream           bool          `json:"stream,omitempty"`
}

type wireChoice struct {
	Index        int          `json:"index"`
	Text         string       `json:"text"`
	FinishReason string       `json:"finish_reason"`
	Message      *wireMessage `json:"message,omitempty"`
	Delta        *wireMessage `json:"delta,omitempty"`
}

type wireResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []wireChoice `json:"choices"`
}

// Infer implements Engine.
func (e *OpenAICompatEngine) Infer(ctx context.Context, req llm.InferenceRequest, model llm.ModelSpec, sink ChunkSink) (*Output, error) {
	completion := model.ModelType == llm.ModelTypeCompletion

	body := wireRequest{
		Model:  firstNonEmpty(model.ConfigString("model"), defaultOpenAIModel),
		Stream: req.Stream,
	}
	if completion {
		body.Prompt = buildPrompt(req)
	} else {
		body.Messages = toWireMessages(req)
		body.Tools = toWireTools(req.Tools)
	}
	applyParameters(&body, req.Parameters)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	path := "/chat/completions"
	if completion {
		path = "/completions"
	}
	baseURL := firstNonEmpty(model.ConfigString("base_url"), e.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := firstNonEmpty(model.ConfigString("api_key"), e.apiKey); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	e.logger.Debug("sending inference request",
		zap.String("request_id", req.ID),
		zap.String("model_id", model.ID),
		zap.String("model", body.Model),
		zap.Bool("stream", req.Stream),
	)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "inference request failed").
			WithCause(err).WithHTTPStatus(http.StatusBadGateway).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readErrorMessage(resp.Body)
		return nil, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("%s returned status %d: %s", model.Engine, resp.StatusCode, msg)).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests)
	}

	if req.Stream {
		return readStream(ctx, resp.Body, sink)
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "failed to decode inference response").
			WithCause(err).WithHTTPStatus(http.StatusBadGateway)
	}
	if len(out.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "inference response has no choices").
			WithHTTPStatus(http.StatusBadGateway)
	}

	choice := out.Choices[0]
	if choice.Message == nil {
		return &Output{Text: choice.Text}, nil
	}
	return &Output{
		Text:      choice.Message.Content,
		Reasoning: firstNonEmpty(choice.Message.ReasoningContent, choice.Message.Reasoning),
		ToolCalls: fromWireToolCalls(choice.Message.ToolCalls),
	}, nil
}

// readStream consumes an SSE body, forwarding deltas to sink and
// assembling the final output, including tool calls split across chunks.
func readStream(ctx context.Context, body io.Reader, sink ChunkSink) (*Output, error) {
	var (
		text      strings.Builder
		reasoning strings.Builder
		calls     = make(map[int]*streamedCall)
	)

	reader := bufio.NewReader(body)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, types.NewError(types.ErrUpstreamError, "stream read failed").WithCause(err)
		}

		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
			if data == "[DONE]" {
				break
			}
			var chunk wireResponse
			if jErr := json.Unmarshal([]byte(data), &chunk); jErr != nil {
				return nil, types.NewError(types.ErrUpstreamError, "malformed stream chunk").WithCause(jErr)
			}
			for _, choice := range chunk.Choices {
				delta := choice.Delta
				if delta == nil {
					if choice.Text != "" {
						text.WriteString(choice.Text)
						emit(sink, ChunkText, choice.Text)
					}
					continue
				}
				if delta.Content != "" {
					text.WriteString(delta.Content)
					emit(sink, ChunkText, delta.Content)
				}
				if r := firstNonEmpty(delta.ReasoningContent, delta.Reasoning); r != "" {
					reasoning.WriteString(r)
					emit(sink, ChunkReasoning, r)
				}
				for i, tc := range delta.ToolCalls {
					idx := i
					if tc.Index != nil {
						idx = *tc.Index
					}
					sc, ok := calls[idx]
					if !ok {
						sc = &streamedCall{}
						calls[idx] = sc
					}
					sc.merge(tc)
				}
			}
		}

		if err == io.EOF {
			break
		}
	}

	return &Output{
		Text:      text.String(),
		Reasoning: reasoning.String(),
		ToolCalls: assembleCalls(calls),
	}, nil
}

type streamedCall struct {
	id   string
	name string
	args strings.Builder
}

func (s *streamedCall) merge(tc wireToolCall) {
	if tc.ID != "" {
		s.id = tc.ID
	}
	if tc.Function.Name != "" {
		s.name = tc.Function.Name
	}
	if len(tc.Function.Arguments) > 0 {
		var fragment string
		if err := json.Unmarshal(tc.Function.Arguments, &fragment); err == nil {
			s.args.WriteString(fragment)
		} else {
			s.args.Write(tc.Function.Arguments)
		}
	}
}

func assembleCalls(calls map[int]*streamedCall) []types.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]types.ToolCall, 0, len(calls))
	for _, idx := range indexes {
		sc := calls[idx]
		out = append(out, types.ToolCall{ID: sc.id, Name: sc.name, Arguments: normalizeArguments(sc.args.String())})
	}
	return out
}

func emit(sink ChunkSink, kind ChunkKind, delta string) {
	if sink != nil {
		sink(kind, delta)
	}
}

func toWireMessages(req llm.InferenceRequest) []wireMessage {
	out := make([]wireMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, wireMessage{Role: string(types.RoleSystem), Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		wm := wireMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunction{
					Name:      tc.Name,
					Arguments: encodeArguments(tc.Arguments),
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

func toWireTools(schemas []types.ToolSchema) []wireTool {
	if len(schemas) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(schemas))
	for _, s := range schemas {
		params := s.Parameters
		if len(params) == 0 {
			params = types.EmptyObjectSchema
		}
		out = append(out, wireTool{
			Type:     "function",
			Function: wireToolDef{Name: s.Name, Description: s.Description, Parameters: params},
		})
	}
	return out
}

func fromWireToolCalls(calls []wireToolCall) []types.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]types.ToolCall, 0, len(calls))
	for _, tc := range calls {
		args := tc.Function.Arguments
		var s string
		if err := json.Unmarshal(args, &s); err == nil {
			args = normalizeArguments(s)
		}
		out = append(out, types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return out
}

// encodeArguments renders arguments as the JSON string the API expects.
func encodeArguments(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 {
		return json.RawMessage(`"{}"`)
	}
	if trimmed[0] == '"' {
		return trimmed
	}
	data, _ := json.Marshal(string(trimmed))
	return data
}

// normalizeArguments keeps an object as-is and wraps anything else as a
// JSON string so callers can apply their own tolerance.
func normalizeArguments(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(s)) && strings.HasPrefix(s, "{") {
		return json.RawMessage(s)
	}
	data, _ := json.Marshal(s)
	return data
}

func buildPrompt(req llm.InferenceRequest) string {
	parts := make([]string, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		parts = append(parts, req.SystemPrompt)
	}
	for _, m := range req.Messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n\n")
}

func applyParameters(body *wireRequest, params map[string]any) {
	for key, value := range params {
		switch key {
		case "max_tokens":
			if f, ok := toFloat(value); ok {
				n := int(f)
				body.MaxTokens = &n
			}
		case "temperature":
			if f, ok := toFloat(value); ok {
				body.Temperature = &f
			}
		case "top_p":
			if f, ok := toFloat(value); ok {
				body.TopP = &f
			}
		case "frequency_penalty":
			if f, ok := toFloat(value); ok {
				body.FrequencyPenalty = &f
			}
		case "presence_penalty":
			if f, ok := toFloat(value); ok {
				body.PresencePenalty = &f
			}
		case "seed":
			if f, ok := toFloat(value); ok {
				n := int64(f)
				body.Seed = &n
			}
		case "stop":
			switch v := value.(type) {
			case string:
				body.Stop = []string{v}
			case []string:
				body.Stop = v
			case []any:
				for _, s := range v {
					if str, ok := s.(string); ok {
						body.Stop = append(body.Stop, str)
					}
				}
			}
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return string(data)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
