package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/agent-chat/internal/types"
)

// defaultAnthropicMaxTokens 是未配置输出上限时的 max_tokens，Anthropic 要求必填。
const defaultAnthropicMaxTokens = 4096

// anthropicModel 封装 Anthropic Messages 接口。
type anthropicModel struct {
	client *anthropic.Client
	name   string
}

// NewAnthropicModel 创建 Anthropic 协议的模型。
func NewAnthropicModel(cfg *types.ModelConfig) (model.LLM, error) {
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

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	return &anthropicModel{
		client: &client,
		name:   modelName,
	}, nil
}

func (m *anthropicModel) Name() string {
	return m.name
}

func (m *anthropicModel) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	maybeAppendUserContent(req)

	if stream {
		return m.generateStream(ctx, req)
	}

	return func(yield func(*model.LLMResponse, error) bool) {
		resp, err := m.generate(ctx, req)
		yield(resp, err)
	}
}

func (m *anthropicModel) generate(ctx context.Context, req *model.LLMRequest) (*model.LLMResponse, error) {
	params := buildAnthropicParams(req, m.name)

	msg, err := m.client.Messages.New(ctx, params)
	if err != nil {
		slog.Error("failed to call llm API", "model", m.name, "error", err.Error())
		return nil, fmt.Errorf("failed to call anthropic API: %w", err)
	}

	return &model.LLMResponse{
		Content:       convertAnthropicMessage(msg),
		UsageMetadata: usageMetadata(msg.Usage.InputTokens, msg.Usage.OutputTokens),
		TurnComplete:  true,
	}, nil
}

func (m *anthropicModel) generateStream(ctx context.Context, req *model.LLMRequest) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		params := buildAnthropicParams(req, m.name)

		stream := m.client.Messages.NewStreaming(ctx, params)
		defer func() {
			if err := stream.Close(); err != nil {
				slog.Error("failed to close stream", "error", err.Error())
			}
		}()

		var final anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := final.Accumulate(event); err != nil {
				yield(nil, fmt.Errorf("failed to accumulate stream: %w", err))
				return
			}

			ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text := ev.Delta.AsTextDelta().Text
			if text == "" {
				continue
			}
			llmResp := &model.LLMResponse{
				Content: &genai.Content{
					Role:  genai.RoleModel,
					Parts: []*genai.Part{{Text: text}},
				},
				Partial: true,
			}
			if !yield(llmResp, nil) {
				return
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

		yield(&model.LLMResponse{
			Content:       convertAnthropicMessage(&final),
			UsageMetadata: usageMetadata(final.Usage.InputTokens, final.Usage.OutputTokens),
			TurnComplete:  true,
		}, nil)
	}
}

func buildAnthropicParams(req *model.LLMRequest, modelName string) anthropic.MessageNewParams {
	name := req.Model
	if name == "" {
		name = modelName
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(name),
		MaxTokens: defaultAnthropicMaxTokens,
	}

	var system []anthropic.TextBlockParam
	if req.Config != nil && req.Config.SystemInstruction != nil {
		if text := contentText(req.Config.SystemInstruction); text != "" {
			system = append(system, anthropic.TextBlockParam{Text: text})
		}
	}

	var messages []anthropic.MessageParam
	for _, content := range req.Contents {
		if content == nil {
			continue
		}
		if content.Role == "system" {
			if text := contentText(content); text != "" {
				system = append(system, anthropic.TextBlockParam{Text: text})
			}
			continue
		}

		role := anthropic.MessageParamRoleUser
		if content.Role == genai.RoleModel || content.Role == "assistant" {
			role = anthropic.MessageParamRoleAssistant
		}
		blocks := anthropicBlocks(content)
		if len(blocks) == 0 {
			continue
		}
		// Messages must alternate; consecutive entries of one role are merged.
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, blocks...)
			continue
		}
		messages = append(messages, anthropic.MessageParam{Role: role, Content: blocks})
	}
	params.Messages = messages
	if len(system) > 0 {
		params.System = system
	}

	if req.Config != nil {
		if req.Config.Temperature != nil {
			params.Temperature = anthropic.Float(float64(*req.Config.Temperature))
		}
		if req.Config.TopP != nil {
			params.TopP = anthropic.Float(float64(*req.Config.TopP))
		}
		if req.Config.TopK != nil {
			params.TopK = anthropic.Int(int64(*req.Config.TopK))
		}
		if req.Config.MaxOutputTokens > 0 {
			params.MaxTokens = int64(req.Config.MaxOutputTokens)
		}
		if tools := convertToolsToAnthropic(req.Config.Tools); len(tools) > 0 {
			params.Tools = tools
		}
	}

	return params
}

func anthropicBlocks(content *genai.Content) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, part := range content.Parts {
		if part == nil {
			continue
		}
		switch {
		case part.FunctionCall != nil:
			blocks = append(blocks, anthropic.NewToolUseBlock(part.FunctionCall.ID, part.FunctionCall.Args, part.FunctionCall.Name))
		case part.FunctionResponse != nil:
			payload, err := json.Marshal(part.FunctionResponse.Response)
			if err != nil {
				slog.Error("failed to marshal function response", "error", err.Error())
				continue
			}
			_, failed := part.FunctionResponse.Response["error"]
			blocks = append(blocks, anthropic.NewToolResultBlock(part.FunctionResponse.ID, string(payload), failed))
		case part.FileData != nil && part.FileData.FileURI != "":
			blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: part.FileData.FileURI}))
		case part.Text != "" && !part.Thought:
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))
		}
	}
	return blocks
}

func convertToolsToAnthropic(tools []*genai.Tool) []anthropic.ToolUnionParam {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		if t == nil {
			continue
		}
		for _, fn := range t.FunctionDeclarations {
			schema, err := anthropicInputSchema(functionParameters(fn))
			if err != nil {
				slog.Error("failed to convert tool schema", "tool", fn.Name, "error", err.Error())
				continue
			}
			tool := anthropic.ToolParam{
				Name:        fn.Name,
				InputSchema: schema,
			}
			if strings.TrimSpace(fn.Description) != "" {
				tool.Description = anthropic.String(fn.Description)
			}
			out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
		}
	}
	return out
}

func anthropicInputSchema(raw map[string]any) (anthropic.ToolInputSchemaParam, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return anthropic.ToolInputSchemaParam{}, err
	}
	var schema anthropic.ToolInputSchemaParam
	if err := json.Unmarshal(data, &schema); err != nil {
		return anthropic.ToolInputSchemaParam{}, err
	}
	return schema, nil
}

func convertAnthropicMessage(msg *anthropic.Message) *genai.Content {
	content := &genai.Content{Role: genai.RoleModel}
	var text strings.Builder
	var calls []*genai.Part
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			if block.ID == "" || block.Name == "" {
				continue
			}
			calls = append(calls, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   block.ID,
					Name: block.Name,
					Args: parseFunctionArgs(string(block.Input)),
				},
			})
		}
	}
	if text.Len() > 0 {
		content.Parts = append(content.Parts, &genai.Part{Text: text.String()})
	}
	content.Parts = append(content.Parts, calls...)
	return content
}
