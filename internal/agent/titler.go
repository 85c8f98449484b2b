package agent

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/agent-chat/internal/models"
	"github.com/easeaico/agent-chat/internal/prompt"
	"github.com/easeaico/agent-chat/internal/utils"
)

const maxTitleRunes = 20

const titleCutset = " \t\"'“”「」《》#*。.!！?？"

// Titler names a session from its first user message.
type Titler struct {
	llm model.LLM
}

func NewTitler(llm model.LLM) *Titler {
	return &Titler{llm: llm}
}

func (t *Titler) Title(ctx context.Context, firstMessage string) (string, error) {
	if strings.TrimSpace(firstMessage) == "" {
		return "", fmt.Errorf("message cannot be empty")
	}
	resp, err := models.Generate(ctx, t.llm, &model.LLMRequest{
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(prompt.NamingPrompt, genai.RoleUser),
		},
		Contents: []*genai.Content{genai.NewContentFromText(firstMessage, genai.RoleUser)},
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}

	title := cleanTitle(utils.ExtractContentText(resp.Content))
	if title == "" {
		return "", fmt.Errorf("empty title response")
	}
	return title, nil
}

// cleanTitle keeps the first line and strips quotes and trailing punctuation.
func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	title = strings.Trim(title, titleCutset)
	return utils.Truncate(strings.TrimSpace(title), maxTitleRunes)
}
