package models

import (
	"context"
	"fmt"

	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"

	"github.com/easeaico/agent-chat/internal/types"
)

// Factory builds the model client for a model config.
type Factory func(ctx context.Context, cfg *types.ModelConfig) (model.LLM, error)

// NewModel selects the adapter by protocol. An empty protocol is treated as OPENAI.
func NewModel(ctx context.Context, cfg *types.ModelConfig) (model.LLM, error) {
	if cfg == nil {
		return nil, fmt.Errorf("model config is required")
	}
	switch cfg.Protocol {
	case types.ProtocolAnthropic:
		return NewAnthropicModel(cfg)
	case types.ProtocolGemini:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("API key is required")
		}
		llm, err := gemini.NewModel(ctx, cfg.Endpoint(), &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini model: %w", err)
		}
		return llm, nil
	case types.ProtocolOpenAI, "":
		return NewOpenAIModel(cfg)
	default:
		return nil, fmt.Errorf("unsupported protocol %q", cfg.Protocol)
	}
}

// GenerateConfig maps the sampling settings of cfg, defaults applied, onto a request config.
func GenerateConfig(cfg *types.ModelConfig) *genai.GenerateContentConfig {
	if cfg == nil {
		return &genai.GenerateContentConfig{}
	}
	temperature := float32(cfg.TemperatureOrDefault())
	topP := float32(cfg.TopPOrDefault())
	topK := float32(cfg.TopKOrDefault())
	return &genai.GenerateContentConfig{
		Temperature: &temperature,
		TopP:        &topP,
		TopK:        &topK,
	}
}

// Generate runs a single non-streaming call and returns its response.
func Generate(ctx context.Context, llm model.LLM, req *model.LLMRequest) (*model.LLMResponse, error) {
	if llm == nil {
		return nil, fmt.Errorf("model not configured")
	}
	var resp *model.LLMResponse
	var err error
	llm.GenerateContent(ctx, req, false)(func(r *model.LLMResponse, e error) bool {
		resp = r
		err = e
		return false
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("empty model response")
	}
	if resp.ErrorCode != "" {
		return nil, fmt.Errorf("model error %s: %s", resp.ErrorCode, resp.ErrorMessage)
	}
	return resp, nil
}
