package agent

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/agent-chat/internal/tool"
	"github.com/easeaico/agent-chat/internal/types"
)

// mockLLM replays one scripted round per GenerateContent call.
type mockLLM struct {
	rounds [][]*model.LLMResponse
	errAt  int
	err    error
	reqs   []*model.LLMRequest
}

var _ model.LLM = (*mockLLM)(nil)

func (m *mockLLM) Name() string { return "mock" }

func (m *mockLLM) GenerateContent(_ context.Context, req *model.LLMRequest, _ bool) iter.Seq2[*model.LLMResponse, error] {
	idx := len(m.reqs)
	m.reqs = append(m.reqs, req)
	return func(yield func(*model.LLMResponse, error) bool) {
		if idx >= len(m.rounds) {
			yield(nil, errors.New("no scripted round"))
			return
		}
		for i, resp := range m.rounds[idx] {
			if m.err != nil && i == m.errAt {
				yield(nil, m.err)
				return
			}
			if !yield(resp, nil) {
				return
			}
		}
	}
}

func partial(text string) *model.LLMResponse {
	return &model.LLMResponse{Content: genai.NewContentFromText(text, genai.RoleModel), Partial: true}
}

func final(text string, in, out int32, calls ...*genai.FunctionCall) *model.LLMResponse {
	content := &genai.Content{Role: genai.RoleModel}
	if text != "" {
		content.Parts = append(content.Parts, genai.NewPartFromText(text))
	}
	for _, call := range calls {
		content.Parts = append(content.Parts, &genai.Part{FunctionCall: call})
	}
	return &model.LLMResponse{
		Content:       content,
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: in, CandidatesTokenCount: out},
		TurnComplete:  true,
	}
}

type echoTool struct {
	fail bool
	args []map[string]any
}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "echo" }
func (e *echoTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{Name: "echo", ParametersJsonSchema: &jsonschema.Schema{Type: "object"}}
}
func (e *echoTool) Run(_ context.Context, args map[string]any) (map[string]any, error) {
	e.args = append(e.args, args)
	if e.fail {
		return nil, errors.New("broken")
	}
	return map[string]any{"echo": args["v"]}, nil
}

func collect(seq iter.Seq[Event]) []Event {
	var events []Event
	for ev := range seq {
		events = append(events, ev)
	}
	return events
}

func TestRunnerStreamsText(t *testing.T) {
	llm := &mockLLM{rounds: [][]*model.LLMResponse{{
		partial("你"), partial("好"), final("你好", 12, 3),
	}}}
	events := collect(NewRunner(llm, nil, 0).Run(context.Background(), []*genai.Content{genai.NewContentFromText("hi", genai.RoleUser)}, nil))

	if len(events) != 3 {
		t.Fatalf("expected 2 partials and completion, got %+v", events)
	}
	if events[0].Kind != EventPartial || events[1].Text != "好" {
		t.Fatalf("unexpected partials: %+v", events[:2])
	}
	done := events[2]
	if done.Kind != EventComplete || done.Text != "你好" || done.Usage.InputTokens != 12 || done.Usage.OutputTokens != 3 {
		t.Fatalf("unexpected completion: %+v", done)
	}
	if llm.reqs[0].Config.Tools != nil {
		t.Fatalf("expected no tools without a provider")
	}
}

func TestRunnerExecutesTools(t *testing.T) {
	echo := &echoTool{}
	llm := &mockLLM{rounds: [][]*model.LLMResponse{
		{partial("让我查一下"), final("让我查一下", 10, 4, &genai.FunctionCall{ID: "c1", Name: "echo", Args: map[string]any{"v": "x"}})},
		{partial("结果是 x"), final("结果是 x", 30, 5)},
	}}
	runner := NewRunner(llm, tool.NewProvider(echo), 4)
	events := collect(runner.Run(context.Background(), []*genai.Content{genai.NewContentFromText("hi", genai.RoleUser)}, &genai.GenerateContentConfig{}))

	kinds := make([]string, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind.String())
	}
	if got := strings.Join(kinds, ","); got != "partial,tool_executed,partial,complete" {
		t.Fatalf("unexpected event order: %s", got)
	}
	exec := events[1].Tool
	if exec.Name != "echo" || !exec.Success || exec.Args != `{"v":"x"}` || exec.Result != `{"echo":"x"}` {
		t.Fatalf("unexpected tool execution: %+v", exec)
	}
	done := events[3]
	if done.Text != "结果是 x" || done.Usage.InputTokens != 10 || done.Usage.OutputTokens != 9 {
		t.Fatalf("unexpected completion: %+v", done)
	}

	second := llm.reqs[1].Contents
	if len(second) != 3 || second[2].Parts[0].FunctionResponse == nil || second[2].Parts[0].FunctionResponse.ID != "c1" {
		t.Fatalf("expected call and response appended to history, got %+v", second)
	}
	if len(llm.reqs[0].Config.Tools) != 1 {
		t.Fatalf("expected tool declarations on the request")
	}
}

func TestRunnerToolFailureIsReportedToModel(t *testing.T) {
	echo := &echoTool{fail: true}
	llm := &mockLLM{rounds: [][]*model.LLMResponse{
		{final("", 1, 1, &genai.FunctionCall{ID: "c1", Name: "echo"})},
		{final("抱歉", 2, 1)},
	}}
	events := collect(NewRunner(llm, tool.NewProvider(echo), 4).Run(context.Background(), nil, nil))
	if events[0].Kind != EventToolExecuted || events[0].Tool.Success {
		t.Fatalf("expected failed tool execution, got %+v", events[0])
	}
	resp := llm.reqs[1].Contents[1].Parts[0].FunctionResponse.Response
	if resp["error"] == nil {
		t.Fatalf("expected error payload for the model, got %+v", resp)
	}
	last := events[len(events)-1]
	if last.Kind != EventComplete || last.Text != "抱歉" {
		t.Fatalf("expected completion from non-partial final text, got %+v", last)
	}
	if events[len(events)-2].Kind != EventPartial {
		t.Fatalf("expected the final text to be forwarded as a partial")
	}
}

func TestRunnerStopsAfterMaxRounds(t *testing.T) {
	call := &genai.FunctionCall{ID: "c", Name: "echo"}
	llm := &mockLLM{rounds: [][]*model.LLMResponse{
		{final("", 1, 1, call)},
		{final("", 1, 1, call)},
	}}
	events := collect(NewRunner(llm, tool.NewProvider(&echoTool{}), 2).Run(context.Background(), nil, nil))
	last := events[len(events)-1]
	if last.Kind != EventError || !errors.Is(last.Err, ErrTooManyToolRounds) {
		t.Fatalf("expected round limit error, got %+v", last)
	}
}

func TestRunnerReportsStreamError(t *testing.T) {
	boom := errors.New("boom")
	llm := &mockLLM{rounds: [][]*model.LLMResponse{{partial("a"), partial("b")}}, errAt: 1, err: boom}
	events := collect(NewRunner(llm, nil, 0).Run(context.Background(), nil, nil))
	if len(events) != 2 || events[1].Kind != EventError || !errors.Is(events[1].Err, boom) {
		t.Fatalf("expected partial then error, got %+v", events)
	}
}

func TestHistorySummarizer(t *testing.T) {
	llm := &mockLLM{rounds: [][]*model.LLMResponse{{final("用户计划周末去杭州", 50, 8)}}}
	summary, err := NewHistorySummarizer(llm).Summarize(context.Background(), []types.Message{
		{Role: types.RoleUser, Content: "周末想去杭州"},
		{Role: types.RoleAssistant, Content: "好的"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Text != "用户计划周末去杭州" || summary.Tokens != 8 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if !strings.Contains(llm.reqs[0].Contents[0].Parts[0].Text, "user: 周末想去杭州") {
		t.Fatalf("expected transcript as user entry")
	}

	if _, err := NewHistorySummarizer(llm).Summarize(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty transcript")
	}
}

func TestTitler(t *testing.T) {
	llm := &mockLLM{rounds: [][]*model.LLMResponse{{final("“杭州周末行程规划”。\n解释", 5, 5)}}}
	title, err := NewTitler(llm).Title(context.Background(), "帮我规划杭州周末")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if title != "杭州周末行程规划" {
		t.Fatalf("unexpected title %q", title)
	}
}
