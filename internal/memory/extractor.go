package memory

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/agent-chat/internal/models"
	"github.com/easeaico/agent-chat/internal/prompt"
	"github.com/easeaico/agent-chat/internal/types"
	"github.com/easeaico/agent-chat/internal/utils"
)

// Extractor 调用对话模型从用户原文中提取候选记忆。
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

type extractedMemory struct {
	Type       string         `json:"type"`
	Text       string         `json:"text"`
	Importance *float64       `json:"importance"`
	Tags       []string       `json:"tags"`
	Data       map[string]any `json:"data"`
}

// Extract 返回候选记忆；模型没有给出可用内容时返回空切片。
func (e *Extractor) Extract(ctx context.Context, llm model.LLM, userText string) ([]*types.CandidateMemory, error) {
	if llm == nil {
		return nil, fmt.Errorf("memory extractor not configured")
	}
	if strings.TrimSpace(userText) == "" {
		return nil, nil
	}

	req := &model.LLMRequest{
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(prompt.ExtractionPrompt, genai.RoleUser),
		},
		Contents: []*genai.Content{genai.NewContentFromText(userText, genai.RoleUser)},
	}

	resp, err := models.Generate(ctx, llm, req)
	if err != nil {
		return nil, fmt.Errorf("failed to extract memories: %w", err)
	}

	raw := utils.ExtractContentText(resp.Content)
	var items []extractedMemory
	if err := utils.ParseJSONArray(raw, &items); err != nil {
		return nil, err
	}

	candidates := make([]*types.CandidateMemory, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Text) == "" {
			continue
		}
		candidates = append(candidates, &types.CandidateMemory{
			Type:       types.ParseMemoryType(item.Type),
			Text:       item.Text,
			Importance: item.Importance,
			Tags:       item.Tags,
			Data:       item.Data,
		})
	}
	return candidates, nil
}
