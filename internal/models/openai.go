// Package models 提供各家模型提供方的适配器实现，统一为 adk 的 model.LLM。
package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"runtime"
	"sort"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/agent-chat/internal/types"
)

// openaiModel 封装 OpenAI 兼容的聊天客户端。
type openaiModel struct {
	client *openai.Client
	name   string
}

type toolCallBuilder struct {
	Index int64
	ID    string
	Name  string
	Args  strings.Builder
}

// NewOpenAIModel 创建 OpenAI 兼容协议的模型，BaseURL 为空时使用官方地址。
func NewOpenAIModel(cfg *types.ModelConfig) (model.LLM, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	modelName := cfg.Endpoint()
	if modelName == "" {
		return nil, fmt.Errorf("model name cannot be empty")
	}

	// 创建时一次性生成 UA 头，避免每次请求重复拼接。
	headerValue := fmt.Sprintf("agent-chat/%s go/%s",
		"1.0.0", strings.TrimPrefix(runtime.Version(), "go"))

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHeader("user-agent", headerValue),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &openaiModel{
		name:   modelName,
		client: &client,
	}, nil
}

func (m *openaiModel) Name() string {
	return m.name
}

func (m *openaiModel) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	maybeAppendUserContent(req)

	if stream {
		return m.generateStream(ctx, req)
	}

	return func(yield func(*model.LLMResponse, error) bool) {
		resp, err := m.generate(ctx, req)
		yield(resp, err)
	}
}

func (m *openaiModel) generate(ctx context.Context, req *model.LLMRequest) (*model.LLMResponse, error) {
	params := buildOpenAIParams(req, m.name)

	resp, err := m.client.Chat.Completions.New(ctx, *params)
	if err != nil {
		slog.Error("failed to call llm API", "model", m.name, "error", err.Error())
		return nil, fmt.Errorf("failed to call openai API: %w", err)
	}

	if resp == nil || len(resp.Choices) == 0 {
		return &model.LLMResponse{TurnComplete: true}, nil
	}

	message := resp.Choices[0].Message
	content := &genai.Content{
		Role:  genai.RoleModel,
		Parts: []*genai.Part{},
	}

	if message.Content != "" {
		content.Parts = append(content.Parts, &genai.Part{
			Text: message.Content,
		})
	}

	for _, v := range message.ToolCalls {
		// OpenAI 工具类型目前仅支持 function。
		if v.Type != "function" || v.ID == "" || v.Function.Name == "" {
			continue
		}
		content.Parts = append(content.Parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{
				ID:   v.ID,
				Name: v.Function.Name,
				Args: parseFunctionArgs(v.Function.Arguments),
			},
		})
	}

	return &model.LLMResponse{
		Content:       content,
		UsageMetadata: usageMetadata(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		TurnComplete:  true,
	}, nil
}

// generateStream 逐段产出 Partial 文本，流结束后产出一条包含完整文本、工具调用与用量的最终响应。
func (m *openaiModel) generateStream(ctx context.Context, req *model.LLMRequest) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		params := buildOpenAIParams(req, m.name)
		if params == nil {
			yield(nil, fmt.Errorf("invalid request parameters"))
			return
		}
		params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}

		stream := m.client.Chat.Completions.NewStreaming(ctx, *params)
		defer func() {
			if err := stream.Close(); err != nil {
				slog.Error("failed to close stream", "error", err.Error())
			}
		}()

		pendingTools := make(map[int64]*toolCallBuilder)
		var fullText strings.Builder
		var usage *genai.GenerateContentResponseUsageMetadata
		for stream.Next() {
			chunk := stream.Current()

			if chunk.Usage.TotalTokens > 0 {
				usage = usageMetadata(chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				fullText.WriteString(choice.Delta.Content)
				llmResp := &model.LLMResponse{
					Content: &genai.Content{
						Role: genai.RoleModel,
						Parts: []*genai.Part{
							{Text: choice.Delta.Content},
						},
					},
					Partial: true,
				}
				if !yield(llmResp, nil) {
					return
				}
			}

			for _, tc := range choice.Delta.ToolCalls {
				builder, exists := pendingTools[tc.Index]
				if !exists {
					builder = &toolCallBuilder{Index: tc.Index}
					pendingTools[tc.Index] = builder
				}
				if tc.ID != "" {
					builder.ID = tc.ID
				}
				if tc.Function.Name != "" {
					builder.Name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					builder.Args.WriteString(tc.Function.Arguments)
				}
			}
		}

		if err := stream.Err(); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				yield(nil, fmt.Errorf("context cancelled: %w", err))
				return
			}
			slog.Error("failed to stream call llm API", "model", m.name, "error", err.Error())
			yield(nil, fmt.Errorf("stream error: %w", err))
			return
		}

		var parts []*genai.Part
		if text := fullText.String(); text != "" {
			parts = append(parts, &genai.Part{Text: text})
		}
		parts = append(parts, pendingFunctionCalls(pendingTools)...)

		yield(&model.LLMResponse{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: parts,
			},
			UsageMetadata: usage,
			TurnComplete:  true,
		}, nil)
	}
}

func pendingFunctionCalls(pending map[int64]*toolCallBuilder) []*genai.Part {
	indices := make([]int64, 0, len(pending))
	for k := range pending {
		indices = append(indices, k)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	parts := make([]*genai.Part, 0, len(indices))
	for _, idx := range indices {
		builder := pending[idx]
		if builder.Name == "" {
			continue
		}
		parts = append(parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{
				ID:   builder.ID,
				Name: builder.Name,
				Args: parseFunctionArgs(builder.Args.String()),
			},
		})
	}
	return parts
}

func maybeAppendUserContent(req *model.LLMRequest) {
	if len(req.Contents) == 0 {
		req.Contents = append(req.Contents, genai.NewContentFromText("Handle the requests as specified in the System Instruction.", genai.RoleUser))
	}
}

func usageMetadata(input, output int64) *genai.GenerateContentResponseUsageMetadata {
	return &genai.GenerateContentResponseUsageMetadata{
		PromptTokenCount:     int32(input),
		CandidatesTokenCount: int32(output),
		TotalTokenCount:      int32(input + output),
	}
}

func parseFunctionArgs(jsonStr string) map[string]any {
	if jsonStr == "" {
		return make(map[string]any)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &args); err != nil {
		slog.Error("failed to parse function arguments", "error", err.Error(), "json", jsonStr)
		return make(map[string]any)
	}
	return args
}
