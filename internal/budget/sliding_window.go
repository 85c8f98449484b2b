package budget

import (
	"context"

	"github.com/easeaico/agent-chat/internal/types"
)

// SlidingWindow keeps the longest suffix of history that fits in the usable budget.
type SlidingWindow struct {
	cfg types.TokenBudgetConfig
}

func NewSlidingWindow(cfg types.TokenBudgetConfig) *SlidingWindow {
	return &SlidingWindow{cfg: cfg}
}

func (s *SlidingWindow) Kind() types.StrategyType { return types.StrategySlidingWindow }

// UsableTokens is maxTokens x (1 - reserveRatio).
func (s *SlidingWindow) UsableTokens() int {
	reserve := s.cfg.ReserveRatio
	if reserve < 0 {
		reserve = 0
	}
	if reserve > 1 {
		reserve = 1
	}
	return int(float64(s.cfg.MaxTokens) * (1 - reserve))
}

// Process walks from newest to oldest and drops everything before the first turn that would overflow.
// The newest turn is always kept, even when it alone exceeds the budget.
func (s *SlidingWindow) Process(_ context.Context, turns []types.Message) (Result, error) {
	if len(turns) == 0 || s.cfg.MaxTokens <= 0 {
		return unchanged(turns), nil
	}

	summaries, rest := splitSummaries(turns)
	if len(rest) == 0 {
		return unchanged(turns), nil
	}

	usable := s.UsableTokens()
	keepFrom := len(rest) - 1
	total := tokensOf(rest[keepFrom])
	for i := len(rest) - 2; i >= 0; i-- {
		next := total + tokensOf(rest[i])
		if next > usable {
			break
		}
		total = next
		keepFrom = i
	}

	if keepFrom == 0 {
		return unchanged(turns), nil
	}

	retained := make([]types.Message, 0, len(summaries)+len(rest)-keepFrom)
	retained = append(retained, summaries...)
	retained = append(retained, rest[keepFrom:]...)

	dropped := make([]types.Message, keepFrom)
	copy(dropped, rest[:keepFrom])

	return Result{
		Processed: true,
		Retained:  retained,
		Dropped:   dropped,
	}, nil
}
