package agent

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/agent-chat/internal/budget"
	"github.com/easeaico/agent-chat/internal/models"
	"github.com/easeaico/agent-chat/internal/prompt"
	"github.com/easeaico/agent-chat/internal/types"
	"github.com/easeaico/agent-chat/internal/utils"
)

// HistorySummarizer condenses older turns with a single model call.
type HistorySummarizer struct {
	llm model.LLM
}

var _ budget.Summarizer = (*HistorySummarizer)(nil)

func NewHistorySummarizer(llm model.LLM) *HistorySummarizer {
	return &HistorySummarizer{llm: llm}
}

// Summarize returns the summary text and its output token count.
func (s *HistorySummarizer) Summarize(ctx context.Context, turns []types.Message) (budget.Summary, error) {
	transcript := strings.TrimSpace(prompt.Transcript(turns))
	if transcript == "" {
		return budget.Summary{}, fmt.Errorf("nothing to summarize")
	}

	resp, err := models.Generate(ctx, s.llm, &model.LLMRequest{
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(prompt.SummaryPrompt, genai.RoleUser),
		},
		Contents: []*genai.Content{genai.NewContentFromText(transcript, genai.RoleUser)},
	})
	if err != nil {
		return budget.Summary{}, fmt.Errorf("failed to summarize history: %w", err)
	}

	text := strings.TrimSpace(utils.ExtractContentText(resp.Content))
	if text == "" {
		return budget.Summary{}, fmt.Errorf("empty summary response")
	}
	summary := budget.Summary{Text: text}
	if resp.UsageMetadata != nil {
		summary.Tokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return summary, nil
}
