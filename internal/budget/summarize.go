package budget

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/easeaico/agent-chat/internal/types"
)

// Summarize condenses older turns into one summary turn once history grows past a threshold.
type Summarize struct {
	cfg        types.TokenBudgetConfig
	summarizer Summarizer
}

func NewSummarize(cfg types.TokenBudgetConfig, summarizer Summarizer) *Summarize {
	return &Summarize{cfg: cfg, summarizer: summarizer}
}

func (s *Summarize) Kind() types.StrategyType { return types.StrategySummarize }

// keepRecent is how many of the newest turns survive a summarization.
func (s *Summarize) keepRecent() int {
	keep := s.cfg.SummaryThreshold / 2
	if keep < 1 {
		keep = 1
	}
	return keep
}

// Process triggers only when the non-summary turn count exceeds SummaryThreshold. Existing summary
// turns are never condensed again; they stay first, ahead of the new summary.
func (s *Summarize) Process(ctx context.Context, turns []types.Message) (Result, error) {
	if len(turns) == 0 || s.cfg.SummaryThreshold <= 0 {
		return unchanged(turns), nil
	}

	summaries, rest := splitSummaries(turns)
	if len(rest) <= s.cfg.SummaryThreshold {
		return unchanged(turns), nil
	}
	if s.summarizer == nil {
		return unchanged(turns), errors.New("summarizer not configured")
	}

	cut := len(rest) - s.keepRecent()
	replaced := rest[:cut]

	summary, err := s.summarizer.Summarize(ctx, replaced)
	if err != nil {
		return unchanged(turns), fmt.Errorf("failed to summarize history: %w", err)
	}
	text := strings.TrimSpace(summary.Text)
	if text == "" {
		return unchanged(turns), errors.New("summarizer returned empty text")
	}

	last := replaced[len(replaced)-1]
	summaryTurn := &types.Message{
		SessionID:      last.SessionID,
		Role:           types.RoleSummary,
		Content:        text,
		MessageType:    types.MessageTypeText,
		TokenCount:     summary.Tokens,
		BodyTokenCount: summary.Tokens,
		IsActive:       true,
		// sorts after the turns it replaces and before the retained ones
		CreatedAt: last.CreatedAt,
	}

	retained := make([]types.Message, 0, len(summaries)+1+len(rest)-cut)
	retained = append(retained, summaries...)
	retained = append(retained, *summaryTurn)
	retained = append(retained, rest[cut:]...)

	dropped := make([]types.Message, len(replaced))
	copy(dropped, replaced)

	return Result{
		Processed: true,
		Retained:  retained,
		Summary:   summaryTurn,
		Dropped:   dropped,
	}, nil
}
