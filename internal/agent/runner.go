// Package agent drives a model through streaming turns and tool calls, and hosts the small
// model-backed helpers used around a chat: history summaries and session titles.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/agent-chat/internal/tool"
	"github.com/easeaico/agent-chat/internal/utils"
)

// DefaultMaxToolRounds bounds how many tool round trips one turn may take.
const DefaultMaxToolRounds = 8

// ErrTooManyToolRounds is returned when the model keeps calling tools past the round limit.
var ErrTooManyToolRounds = errors.New("too many tool rounds")

type EventKind int

const (
	// EventPartial carries a text fragment.
	EventPartial EventKind = iota
	// EventToolExecuted reports one finished tool call.
	EventToolExecuted
	// EventError ends the run with an error.
	EventError
	// EventComplete ends the run with the final text and token usage.
	EventComplete
)

func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventToolExecuted:
		return "tool_executed"
	case EventError:
		return "error"
	case EventComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// ToolExecution describes a tool call and its outcome.
type ToolExecution struct {
	Name    string
	Args    string
	Result  string
	Success bool
}

// Usage is the token usage of a run. InputTokens is the prompt size of the first call; output
// tokens are summed over every round.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Event is one step of a run. Text is the fragment for EventPartial and the final text of the
// last round for EventComplete.
type Event struct {
	Kind     EventKind
	Text     string
	Tool     *ToolExecution
	Err      error
	Usage    Usage
	Duration time.Duration
}

// Runner streams a model turn and executes the tools it calls until the model answers in text.
type Runner struct {
	llm       model.LLM
	tools     *tool.Provider
	maxRounds int
}

func NewRunner(llm model.LLM, tools *tool.Provider, maxRounds int) *Runner {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxToolRounds
	}
	return &Runner{llm: llm, tools: tools, maxRounds: maxRounds}
}

// Run streams the conversation in contents. The sequence always ends with exactly one
// EventError or EventComplete unless the consumer stops early.
func (r *Runner) Run(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		start := time.Now()
		if r.llm == nil {
			yield(Event{Kind: EventError, Err: fmt.Errorf("model not configured"), Duration: time.Since(start)})
			return
		}

		if cfg == nil {
			cfg = &genai.GenerateContentConfig{}
		}
		if decls := r.tools.Declarations(); len(decls) > 0 {
			cfg.Tools = append(cfg.Tools, decls...)
		}

		history := append([]*genai.Content(nil), contents...)
		var usage Usage
		for round := 0; ; round++ {
			final, text, ok := r.streamRound(ctx, history, cfg, &usage, round == 0, start, yield)
			if !ok {
				return
			}

			calls := utils.FunctionCalls(final)
			if len(calls) == 0 || r.tools.Len() == 0 {
				yield(Event{Kind: EventComplete, Text: text, Usage: usage, Duration: time.Since(start)})
				return
			}
			if round+1 >= r.maxRounds {
				yield(Event{Kind: EventError, Err: ErrTooManyToolRounds, Usage: usage, Duration: time.Since(start)})
				return
			}

			history = append(history, final)
			responses := &genai.Content{Role: genai.RoleUser}
			for _, call := range calls {
				exec, response := r.execute(ctx, call)
				responses.Parts = append(responses.Parts, &genai.Part{FunctionResponse: response})
				if !yield(Event{Kind: EventToolExecuted, Tool: exec, Duration: time.Since(start)}) {
					return
				}
			}
			history = append(history, responses)
		}
	}
}

// streamRound runs one model call. It forwards partial text and returns the final content and
// the text of this round. ok is false when the run ended, with an error event or a stopped consumer.
func (r *Runner) streamRound(ctx context.Context, history []*genai.Content, cfg *genai.GenerateContentConfig, usage *Usage, first bool, start time.Time, yield func(Event) bool) (*genai.Content, string, bool) {
	req := &model.LLMRequest{
		Model:    r.llm.Name(),
		Contents: history,
		Config:   cfg,
	}

	var streamed strings.Builder
	var final *genai.Content
	for resp, err := range r.llm.GenerateContent(ctx, req, true) {
		if err == nil && resp != nil && resp.ErrorCode != "" {
			err = fmt.Errorf("model error %s: %s", resp.ErrorCode, resp.ErrorMessage)
		}
		if err != nil {
			yield(Event{Kind: EventError, Err: err, Usage: *usage, Duration: time.Since(start)})
			return nil, "", false
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			if first && resp.UsageMetadata.PromptTokenCount > 0 {
				usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			}
		}
		if resp.Partial {
			fragment := utils.ExtractContentText(resp.Content)
			if fragment == "" {
				continue
			}
			streamed.WriteString(fragment)
			if !yield(Event{Kind: EventPartial, Text: fragment, Duration: time.Since(start)}) {
				return nil, "", false
			}
			continue
		}
		if resp.UsageMetadata != nil {
			usage.OutputTokens += int(resp.UsageMetadata.CandidatesTokenCount)
		}
		final = resp.Content
	}
	if err := ctx.Err(); err != nil {
		yield(Event{Kind: EventError, Err: err, Usage: *usage, Duration: time.Since(start)})
		return nil, "", false
	}

	text := streamed.String()
	if final == nil {
		final = &genai.Content{Role: genai.RoleModel}
		if text != "" {
			final.Parts = append(final.Parts, genai.NewPartFromText(text))
		}
	} else if finalText := utils.ExtractContentText(final); finalText != "" && text == "" {
		// Providers that skip partials deliver the whole answer here.
		if !yield(Event{Kind: EventPartial, Text: finalText, Duration: time.Since(start)}) {
			return nil, "", false
		}
		text = finalText
	}
	return final, text, true
}

func (r *Runner) execute(ctx context.Context, call *genai.FunctionCall) (*ToolExecution, *genai.FunctionResponse) {
	args, _ := json.Marshal(call.Args)
	exec := &ToolExecution{Name: call.Name, Args: string(args)}

	result, err := r.tools.Call(ctx, call.Name, call.Args)
	if err != nil {
		slog.Warn("tool call failed", "tool", call.Name, "error", err.Error())
		result = map[string]any{"error": err.Error()}
	} else {
		exec.Success = true
	}
	payload, _ := json.Marshal(result)
	exec.Result = string(payload)

	return exec, &genai.FunctionResponse{
		ID:       call.ID,
		Name:     call.Name,
		Response: result,
	}
}
