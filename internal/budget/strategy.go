// Package budget keeps conversation history within a model's context window.
package budget

import (
	"context"

	"github.com/easeaico/agent-chat/internal/types"
)

// Result is the outcome of applying a strategy to the active history.
type Result struct {
	// Processed reports whether the history was changed.
	Processed bool
	// Retained is the history to send, oldest first. A summary turn, if any, sorts first.
	Retained []types.Message
	// Summary is the newly produced summary turn, not yet persisted.
	Summary *types.Message
	// Dropped are the turns the caller must mark inactive.
	Dropped []types.Message
}

// Strategy shrinks an ordered list of active turns.
type Strategy interface {
	Kind() types.StrategyType
	Process(ctx context.Context, turns []types.Message) (Result, error)
}

// Summary is the condensed text of a run of turns.
type Summary struct {
	Text   string
	Tokens int
}

// Summarizer condenses turns into a single text, usually with a model call.
type Summarizer interface {
	Summarize(ctx context.Context, turns []types.Message) (Summary, error)
}

// New returns the strategy selected by cfg. Unknown kinds behave as None.
func New(cfg types.TokenBudgetConfig, summarizer Summarizer) Strategy {
	switch cfg.StrategyType {
	case types.StrategySlidingWindow:
		return &SlidingWindow{cfg: cfg}
	case types.StrategySummarize:
		return &Summarize{cfg: cfg, summarizer: summarizer}
	default:
		return None{}
	}
}

// None keeps history unchanged.
type None struct{}

func (None) Kind() types.StrategyType { return types.StrategyNone }

func (None) Process(_ context.Context, turns []types.Message) (Result, error) {
	return unchanged(turns), nil
}

func unchanged(turns []types.Message) Result {
	return Result{Processed: false, Retained: turns}
}

// splitSummaries separates existing summary turns, which are always carried forward, from the rest.
func splitSummaries(turns []types.Message) (summaries, rest []types.Message) {
	for _, turn := range turns {
		if turn.IsSummary() {
			summaries = append(summaries, turn)
			continue
		}
		rest = append(rest, turn)
	}
	return summaries, rest
}

// tokensOf returns the own-content token count of a turn. A user turn's TokenCount is the whole
// prompt including carried history, so it never stands in for a missing body count.
func tokensOf(turn types.Message) int {
	if turn.BodyTokenCount > 0 {
		return turn.BodyTokenCount
	}
	if turn.IsUser() {
		return 0
	}
	return max(turn.TokenCount, 0)
}
