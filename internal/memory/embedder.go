package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"google.golang.org/genai"

	"github.com/easeaico/agent-chat/internal/types"
)

// DefaultDimensions 是向量索引使用的维度。
const DefaultDimensions = 768

// Embedder 负责将文本转换为向量表示。
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
}

// NewEmbedder 按协议创建 Embedder。ANTHROPIC 没有向量接口，走 OpenAI 兼容协议。
func NewEmbedder(ctx context.Context, cfg *types.ModelConfig, dimensions int) (Embedder, error) {
	if cfg == nil {
		return nil, types.ErrEmbeddingNotConfigured
	}
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	switch cfg.Protocol {
	case types.ProtocolGemini:
		return newGenAIEmbedder(ctx, cfg.APIKey, cfg.Endpoint(), dimensions)
	default:
		return newOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Endpoint(), dimensions)
	}
}

type GenAIEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

func newGenAIEmbedder(ctx context.Context, apiKey, modelName string, dimensions int) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google api key is required for embeddings")
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GenAIEmbedder{
		client:     client,
		model:      modelName,
		dimensions: dimensions,
	}, nil
}

func (e *GenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, "RETRIEVAL_QUERY")
}

func (e *GenAIEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, "RETRIEVAL_DOCUMENT")
}

func (e *GenAIEmbedder) embed(ctx context.Context, text, taskType string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}

	dims := int32(e.dimensions)
	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), &genai.EmbedContentConfig{
		TaskType:             taskType,
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("empty embedding response")
	}
	return fitDimensions(resp.Embeddings[0].Values, e.dimensions, e.model)
}

// OpenAIEmbedder 调用 OpenAI 兼容的 /embeddings 接口。
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
}

func newOpenAIEmbedder(apiKey, baseURL, modelName string, dimensions int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required for embeddings")
	}
	if modelName == "" {
		modelName = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIEmbedder{
		client:     openai.NewClient(opts...),
		model:      modelName,
		dimensions: dimensions,
	}, nil
}

func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

func (e *OpenAIEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text)
}

func (e *OpenAIEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: openai.Int(int64(e.dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if resp == nil || len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	values := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		values[i] = float32(v)
	}
	return fitDimensions(values, e.dimensions, e.model)
}

func fitDimensions(values []float32, dimensions int, model string) ([]float32, error) {
	if len(values) == dimensions {
		return values, nil
	}
	if len(values) > dimensions {
		slog.Warn("embedding dimensions exceed target, truncating", "actual", len(values), "target", dimensions, "model", model)
		return values[:dimensions], nil
	}
	return nil, fmt.Errorf("embedding dimensions mismatch: got %d want %d", len(values), dimensions)
}
