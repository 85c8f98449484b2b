package chat

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/agent-chat/internal/prompt"
	"github.com/easeaico/agent-chat/internal/registry"
	"github.com/easeaico/agent-chat/internal/stream"
	"github.com/easeaico/agent-chat/internal/types"
	"github.com/easeaico/agent-chat/internal/utils"
	"github.com/easeaico/agent-chat/internal/worker"
)

type mockSessions struct {
	mu       sync.Mutex
	sessions map[string]*types.Session
}

var _ SessionStore = (*mockSessions)(nil)

func (m *mockSessions) Create(_ context.Context, session *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = make(map[string]*types.Session)
	}
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *mockSessions) Get(_ context.Context, id string) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *mockSessions) List(context.Context) ([]types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockSessions) UpdateTitle(_ context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return types.ErrNotFound
	}
	session.Title = title
	return nil
}

type mockAgents struct {
	mu     sync.Mutex
	agents map[string]*types.Agent
}

var _ AgentStore = (*mockAgents)(nil)

func (m *mockAgents) Create(_ context.Context, agent *types.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.agents == nil {
		m.agents = make(map[string]*types.Agent)
	}
	m.agents[agent.ID] = agent
	return nil
}

func (m *mockAgents) Get(_ context.Context, id string) (*types.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	agent, ok := m.agents[id]
	if !ok {
		return nil, types.ErrNotFound
	}
	return agent, nil
}

type mockMessages struct {
	mu          sync.Mutex
	messages    []types.Message
	deactivated []string
}

var _ MessageStore = (*mockMessages)(nil)

func (m *mockMessages) Create(_ context.Context, msg *types.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *mockMessages) UpdateTokens(_ context.Context, msg *types.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if m.messages[i].ID == msg.ID {
			m.messages[i].Content = msg.Content
			m.messages[i].TokenCount = msg.TokenCount
			m.messages[i].BodyTokenCount = msg.BodyTokenCount
			return nil
		}
	}
	return types.ErrNotFound
}

func (m *mockMessages) ListActive(_ context.Context, sessionID string) ([]types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Message
	for _, msg := range m.messages {
		if msg.SessionID == sessionID && msg.IsActive {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *mockMessages) CountBySession(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			count++
		}
	}
	return count, nil
}

func (m *mockMessages) Deactivate(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivated = append(m.deactivated, ids...)
	for i := range m.messages {
		for _, id := range ids {
			if m.messages[i].ID == id {
				m.messages[i].IsActive = false
			}
		}
	}
	return nil
}

func (m *mockMessages) all() []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Message(nil), m.messages...)
}

type mockMemory struct {
	mu       sync.Mutex
	results  []types.MemoryResult
	searches []string
	saved    []*types.CandidateMemory
}

var _ MemoryStore = (*mockMemory)(nil)

func (m *mockMemory) SearchRelevant(_ context.Context, _ string, query string, _ int) []types.MemoryResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches = append(m.searches, query)
	return m.results
}

func (m *mockMemory) SaveMemories(_ context.Context, _ string, candidates []*types.CandidateMemory) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, candidates...)
	return nil, nil
}

// mockLLM scripts streamed calls round by round. A nil response in a round yields err. Non-stream
// calls, used by the background helpers, answer through reply.
type mockLLM struct {
	mu     sync.Mutex
	rounds [][]*model.LLMResponse
	err    error
	reply  func(req *model.LLMRequest) string
	reqs   []*model.LLMRequest
}

var _ model.LLM = (*mockLLM)(nil)

func (m *mockLLM) Name() string { return "mock" }

func (m *mockLLM) GenerateContent(_ context.Context, req *model.LLMRequest, streaming bool) iter.Seq2[*model.LLMResponse, error] {
	if !streaming {
		text := "ok"
		if m.reply != nil {
			text = m.reply(req)
		}
		return func(yield func(*model.LLMResponse, error) bool) {
			yield(final(text, 1, 2), nil)
		}
	}

	m.mu.Lock()
	idx := len(m.reqs)
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()

	return func(yield func(*model.LLMResponse, error) bool) {
		if idx >= len(m.rounds) {
			yield(nil, errors.New("no scripted round"))
			return
		}
		for _, resp := range m.rounds[idx] {
			if resp == nil {
				yield(nil, m.err)
				return
			}
			if !yield(resp, nil) {
				return
			}
		}
	}
}

func (m *mockLLM) request(i int) *model.LLMRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reqs[i]
}

// hangingLLM streams one fragment and then blocks until its context is cancelled.
type hangingLLM struct {
	started chan struct{}
}

var _ model.LLM = (*hangingLLM)(nil)

func (h *hangingLLM) Name() string { return "hanging" }

func (h *hangingLLM) GenerateContent(ctx context.Context, _ *model.LLMRequest, _ bool) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		if !yield(partial("思考中"), nil) {
			return
		}
		close(h.started)
		<-ctx.Done()
		yield(nil, ctx.Err())
	}
}

// gatedLLM streams a few fragments and holds the final response until release is closed.
type gatedLLM struct {
	streamed chan struct{}
	release  chan struct{}
}

var _ model.LLM = (*gatedLLM)(nil)

func newGatedLLM() *gatedLLM {
	return &gatedLLM{streamed: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedLLM) Name() string { return "gated" }

func (g *gatedLLM) GenerateContent(ctx context.Context, _ *model.LLMRequest, streaming bool) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		if !streaming {
			yield(final("[]", 1, 1), nil)
			return
		}
		for _, text := range []string{"今天", "天气", "不错"} {
			if !yield(partial(text), nil) {
				return
			}
		}
		close(g.streamed)
		select {
		case <-g.release:
		case <-ctx.Done():
			yield(nil, ctx.Err())
			return
		}
		yield(final("今天天气不错", 8, 3), nil)
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

type recordingHooks struct {
	NopHooks
	mu     sync.Mutex
	events []string
	phases []types.ExecutionPhase
	errMsg string
}

func (h *recordingHooks) add(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *recordingHooks) OnChatStart(context.Context, *Turn) { h.add("start") }

func (h *recordingHooks) OnUserMessageProcessed(context.Context, *Turn, *types.Message) {
	h.add("user")
}

func (h *recordingHooks) OnModelCallCompleted(context.Context, *Turn, types.ModelCallInfo) {
	h.add("model")
}

func (h *recordingHooks) OnToolCallCompleted(_ context.Context, _ *Turn, info types.ToolCallInfo) {
	h.add("tool:" + info.ToolName)
}

func (h *recordingHooks) OnChatCompleted(_ context.Context, _ *Turn, success bool, errMsg string) {
	h.mu.Lock()
	h.errMsg = errMsg
	h.mu.Unlock()
	if success {
		h.add("completed")
		return
	}
	h.add("failed")
}

func (h *recordingHooks) OnChatError(_ context.Context, _ *Turn, phase types.ExecutionPhase, _ error) {
	h.mu.Lock()
	h.phases = append(h.phases, phase)
	h.mu.Unlock()
	h.add("error")
}

func (h *recordingHooks) sequence() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return strings.Join(h.events, ",")
}

type fixture struct {
	svc      *Service
	sessions *mockSessions
	agents   *mockAgents
	messages *mockMessages
	memory   *mockMemory
	hooks    *recordingHooks
	pool     *worker.Pool
	registry *registry.Registry
}

func newFixture(t *testing.T, llm model.LLM, agent *types.Agent) *fixture {
	t.Helper()
	f := &fixture{
		sessions: &mockSessions{},
		agents:   &mockAgents{},
		messages: &mockMessages{},
		memory:   &mockMemory{},
		hooks:    &recordingHooks{},
		pool:     worker.NewPool(worker.Config{Workers: 1, QueueSize: 8, MaxConcurrent: 1}),
		registry: registry.New(),
	}
	t.Cleanup(func() { _ = f.pool.Shutdown(time.Second) })

	if agent == nil {
		agent = &types.Agent{ID: "agent-1", SystemPrompt: "你是一个助手", AgentModelConfig: &types.ModelConfig{ModelID: "mock-model"}}
	}
	_ = f.agents.Create(context.Background(), agent)
	_ = f.sessions.Create(context.Background(), &types.Session{ID: "s1", Title: types.DefaultSessionTitle, AgentID: agent.ID, CreatedAt: time.Now()})

	f.svc = NewService(Deps{
		Sessions: f.sessions,
		Agents:   f.agents,
		Messages: f.messages,
		Memory:   f.memory,
		Registry: f.registry,
		Pool:     f.pool,
		Models: func(context.Context, *types.ModelConfig) (model.LLM, error) {
			return llm, nil
		},
		Hooks: f.hooks,
	}, Options{StreamTimeout: 5 * time.Second, MemoryTopK: 3})
	return f
}

func waitDone(t *testing.T, e *stream.Emitter) {
	t.Helper()
	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("stream did not close")
	}
}

func framesOf(e *stream.Emitter) ([]types.Frame, []stream.Event) {
	var frames []types.Frame
	var others []stream.Event
	for _, ev := range e.Events() {
		if frame, ok := ev.Data.(types.Frame); ok {
			frames = append(frames, frame)
			continue
		}
		others = append(others, ev)
	}
	return frames, others
}

func TestChatRejectsBlankInput(t *testing.T) {
	f := newFixture(t, &mockLLM{}, nil)

	if _, err := f.svc.Chat(context.Background(), types.ChatRequest{SessionID: "s1", Message: "  "}); !errors.Is(err, types.ErrInvalidRequest) {
		t.Fatalf("expected invalid request for blank message, got %v", err)
	}
	if _, err := f.svc.Chat(context.Background(), types.ChatRequest{Message: "hi"}); !errors.Is(err, types.ErrInvalidRequest) {
		t.Fatalf("expected invalid request for blank session, got %v", err)
	}
	if _, err := f.svc.Chat(context.Background(), types.ChatRequest{SessionID: "missing", Message: "hi"}); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected not found for unknown session, got %v", err)
	}
	if got := len(f.messages.all()); got != 0 {
		t.Fatalf("expected nothing persisted, got %d messages", got)
	}
	if f.hooks.sequence() != "" {
		t.Fatalf("expected no hooks, got %s", f.hooks.sequence())
	}
}

func TestChatStreamsAndPersists(t *testing.T) {
	llm := &mockLLM{
		rounds: [][]*model.LLMResponse{{partial("  "), partial("你"), partial("好"), final("  你好", 12, 3)}},
		reply: func(req *model.LLMRequest) string {
			if utils.ExtractContentText(req.Config.SystemInstruction) == prompt.NamingPrompt {
				return "“打招呼”"
			}
			return "[]"
		},
	}
	f := newFixture(t, llm, nil)

	e, err := f.svc.Chat(context.Background(), types.ChatRequest{SessionID: "s1", Message: "你好呀"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDone(t, e)

	frames, _ := framesOf(e)
	if len(frames) != 3 {
		t.Fatalf("expected 2 fragments and a done frame, got %+v", frames)
	}
	if frames[0].Content != "你" || frames[0].Done || frames[1].Content != "好" {
		t.Fatalf("unexpected fragments: %+v", frames[:2])
	}
	if !frames[2].Done || frames[2].MessageType != types.MessageTypeText {
		t.Fatalf("expected final done frame, got %+v", frames[2])
	}

	messages := f.messages.all()
	if len(messages) != 2 {
		t.Fatalf("expected user and assistant turns, got %+v", messages)
	}
	user, reply := messages[0], messages[1]
	if !user.IsUser() || user.TokenCount != 12 || user.BodyTokenCount != 12 {
		t.Fatalf("unexpected user turn: %+v", user)
	}
	if !reply.IsAssistant() || reply.Content != "  你好" || reply.TokenCount != 3 || reply.BodyTokenCount != 3 || reply.Model != "mock-model" {
		t.Fatalf("unexpected assistant turn: %+v", reply)
	}

	if got := f.hooks.sequence(); got != "start,user,model,completed" {
		t.Fatalf("unexpected hook sequence: %s", got)
	}

	req := llm.request(0)
	if sys := utils.ExtractContentText(req.Config.SystemInstruction); !strings.HasPrefix(sys, "你是一个助手\n") {
		t.Fatalf("unexpected system prompt %q", sys)
	}
	if last := req.Contents[len(req.Contents)-1]; utils.ExtractContentText(last) != "你好呀" || last.Role != genai.RoleUser {
		t.Fatalf("expected the current message last, got %+v", last)
	}
	if req.Config.Tools != nil {
		t.Fatalf("expected no tools for an agent without embeddings")
	}

	if err := f.pool.Shutdown(time.Second); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	session, _ := f.sessions.Get(context.Background(), "s1")
	if session.Title != "打招呼" {
		t.Fatalf("expected session renamed, got %q", session.Title)
	}
	if f.registry.Len() != 0 {
		t.Fatalf("expected stream removed from registry")
	}
}

func TestChatModelErrorMidStream(t *testing.T) {
	llm := &mockLLM{
		rounds: [][]*model.LLMResponse{{partial("一半"), nil}},
		err:    errors.New("upstream reset"),
	}
	f := newFixture(t, llm, nil)

	e, err := f.svc.Chat(context.Background(), types.ChatRequest{SessionID: "s1", Message: "讲个故事"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDone(t, e)

	frames, _ := framesOf(e)
	done := 0
	for _, frame := range frames {
		if frame.Done {
			done++
			if !strings.Contains(frame.Content, "upstream reset") {
				t.Fatalf("expected error text in done frame, got %+v", frame)
			}
		}
	}
	if done != 1 {
		t.Fatalf("expected exactly one done frame, got %+v", frames)
	}

	messages := f.messages.all()
	if len(messages) != 1 || !messages[0].IsUser() {
		t.Fatalf("expected only the user turn persisted, got %+v", messages)
	}
	if got := f.hooks.sequence(); got != "start,user,error,failed" {
		t.Fatalf("unexpected hook sequence: %s", got)
	}
	if f.hooks.phases[0] != types.PhaseModelCall {
		t.Fatalf("expected model call phase, got %s", f.hooks.phases[0])
	}
}

func TestChatToolCallFlushesBuffer(t *testing.T) {
	agent := &types.Agent{
		ID:                   "agent-1",
		SystemPrompt:         "你是一个助手",
		AgentModelConfig:     &types.ModelConfig{ModelID: "mock-model"},
		EmbeddingModelConfig: &types.ModelConfig{ModelID: "embed"},
	}
	llm := &mockLLM{rounds: [][]*model.LLMResponse{
		{partial("我查一下"), final("我查一下", 20, 4, &genai.FunctionCall{ID: "c1", Name: "recall_memory", Args: map[string]any{"query": "饮料"}})},
		{partial("你喜欢咖啡"), final("你喜欢咖啡", 40, 5)},
	}}
	f := newFixture(t, llm, agent)
	f.memory.results = []types.MemoryResult{{ItemID: "m1", Type: types.MemoryTypePreference, Text: "喜欢咖啡", Score: 0.8}}

	e, err := f.svc.Chat(context.Background(), types.ChatRequest{SessionID: "s1", Message: "我喜欢喝什么"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDone(t, e)

	frames, _ := framesOf(e)
	var got []string
	for _, frame := range frames {
		label := frame.Content
		if frame.Done {
			label = "done:" + string(frame.MessageType) + ":" + frame.Content
		}
		got = append(got, label)
	}
	want := "我查一下|done:TEXT:|done:TOOL_CALL:执行工具：recall_memory|你喜欢咖啡|done:TEXT:"
	if strings.Join(got, "|") != want {
		t.Fatalf("unexpected frames:\n got %s\nwant %s", strings.Join(got, "|"), want)
	}

	messages := f.messages.all()
	if len(messages) != 4 {
		t.Fatalf("expected user, flushed text, tool notice and answer, got %+v", messages)
	}
	if messages[1].Content != "我查一下" || messages[2].MessageType != types.MessageTypeToolCall || messages[3].Content != "你喜欢咖啡" {
		t.Fatalf("unexpected persisted turns: %+v", messages)
	}
	if messages[3].TokenCount != 9 || messages[0].TokenCount != 20 {
		t.Fatalf("unexpected token back-fill: user %d assistant %d", messages[0].TokenCount, messages[3].TokenCount)
	}

	if got := f.hooks.sequence(); got != "start,user,tool:recall_memory,model,completed" {
		t.Fatalf("unexpected hook sequence: %s", got)
	}
	sys := utils.ExtractContentText(llm.request(0).Config.SystemInstruction)
	if !strings.Contains(sys, "[记忆要点]\n- [PREFERENCE] 喜欢咖啡") {
		t.Fatalf("expected memory section in system prompt, got %q", sys)
	}
	if len(llm.request(0).Config.Tools) != 1 {
		t.Fatalf("expected recall_memory declared")
	}
}

func TestChatInterrupt(t *testing.T) {
	llm := &hangingLLM{started: make(chan struct{})}
	f := newFixture(t, llm, nil)

	e, err := f.svc.Chat(context.Background(), types.ChatRequest{SessionID: "s1", Message: "写一篇长文"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case <-llm.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("model never started")
	}

	result, err := f.svc.Interrupt(context.Background(), "s1")
	if err != nil || result != types.InterruptApplied {
		t.Fatalf("expected interrupt to succeed, got %v %v", result, err)
	}
	waitDone(t, e)
	if result, _ := f.svc.Interrupt(context.Background(), "s1"); result != types.InterruptNotLive {
		t.Fatalf("expected second interrupt to find nothing live, got %s", result)
	}

	frames, others := framesOf(e)
	if len(frames) != 1 || frames[0].Content != "思考中" {
		t.Fatalf("expected only the streamed fragment, got %+v", frames)
	}
	if len(others) != 1 || others[0].Name != registry.InterruptEvent {
		t.Fatalf("expected interrupt event, got %+v", others)
	}

	// the runner sees the cancelled context shortly after the close
	time.Sleep(50 * time.Millisecond)
	messages := f.messages.all()
	if len(messages) != 1 {
		t.Fatalf("expected no assistant turn after interrupt, got %+v", messages)
	}
	if got := f.hooks.sequence(); got != "start,user,failed" {
		t.Fatalf("unexpected hook sequence: %s", got)
	}
}

func serveAsync(e *stream.Emitter, req *http.Request) (*httptest.ResponseRecorder, <-chan struct{}) {
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		stream.ServeSSE(rec, req, e)
	}()
	return rec, done
}

func TestChatAndStreamClientsEachGetEveryFrame(t *testing.T) {
	llm := newGatedLLM()
	f := newFixture(t, llm, nil)

	posted, err := f.svc.Chat(context.Background(), types.ChatRequest{SessionID: "s1", Message: "天气怎么样"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	attached := f.svc.Stream(context.Background(), "s1", time.Second)
	if attached != posted {
		t.Fatalf("expected /stream to attach to the live turn")
	}

	chatRec, chatDone := serveAsync(posted, httptest.NewRequest(http.MethodPost, "/ai/chat", nil))
	streamRec, streamDone := serveAsync(attached, httptest.NewRequest(http.MethodGet, "/ai/stream/s1", nil))
	<-llm.streamed
	close(llm.release)
	<-chatDone
	<-streamDone

	frames, _ := framesOf(posted)
	if len(frames) != 4 {
		t.Fatalf("expected 3 fragments and a done frame, got %+v", frames)
	}
	for name, rec := range map[string]*httptest.ResponseRecorder{"chat": chatRec, "stream": streamRec} {
		body := rec.Body.String()
		if n := strings.Count(body, "data: "); n != len(frames) {
			t.Fatalf("%s client got %d frames, want %d: %s", name, n, len(frames), body)
		}
		if !strings.Contains(body, `"content":"今天"`) || !strings.Contains(body, `"content":"不错"`) {
			t.Fatalf("%s client missing fragments: %s", name, body)
		}
	}
}

func TestStreamClientLeavingKeepsTurnRunning(t *testing.T) {
	llm := newGatedLLM()
	f := newFixture(t, llm, nil)

	e, err := f.svc.Chat(context.Background(), types.ChatRequest{SessionID: "s1", Message: "天气怎么样"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, left := serveAsync(f.svc.Stream(ctx, "s1", time.Second), httptest.NewRequest(http.MethodGet, "/ai/stream/s1", nil).WithContext(ctx))
	<-llm.streamed
	<-left

	if e.Closed() {
		t.Fatalf("a departing client must not close the turn's stream")
	}
	close(llm.release)
	waitDone(t, e)

	if e.Err() != nil {
		t.Fatalf("expected normal completion, got %v", e.Err())
	}
	messages := f.messages.all()
	if len(messages) != 2 || messages[1].Content != "今天天气不错" {
		t.Fatalf("expected the assistant turn to be persisted, got %+v", messages)
	}
	if got := f.hooks.sequence(); got != "start,user,model,completed" {
		t.Fatalf("unexpected hook sequence: %s", got)
	}
}

func TestChatSummarizesLongHistory(t *testing.T) {
	agent := &types.Agent{
		ID:           "agent-1",
		SystemPrompt: "你是一个助手",
		AgentModelConfig: &types.ModelConfig{
			ModelID:          "mock-model",
			StrategyType:     types.StrategySummarize,
			SummaryThreshold: 2,
		},
	}
	llm := &mockLLM{
		rounds: [][]*model.LLMResponse{{final("好的", 30, 2)}},
		reply: func(req *model.LLMRequest) string {
			if utils.ExtractContentText(req.Config.SystemInstruction) == prompt.SummaryPrompt {
				return "用户在计划旅行"
			}
			return "旅行"
		},
	}
	f := newFixture(t, llm, agent)

	base := time.Now().Add(-time.Hour)
	for i, content := range []string{"想去旅行", "去哪里", "杭州", "好主意"} {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		_ = f.messages.Create(context.Background(), &types.Message{
			ID:             "m" + string(rune('1'+i)),
			SessionID:      "s1",
			Role:           role,
			Content:        content,
			MessageType:    types.MessageTypeText,
			BodyTokenCount: 5,
			IsActive:       true,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
	}

	e, err := f.svc.Chat(context.Background(), types.ChatRequest{SessionID: "s1", Message: "那天气呢"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitDone(t, e)

	if got := strings.Join(f.messages.deactivated, ","); got != "m1,m2,m3" {
		t.Fatalf("unexpected deactivated turns: %s", got)
	}

	var summary *types.Message
	for _, msg := range f.messages.all() {
		if msg.IsSummary() {
			summary = &msg
		}
	}
	if summary == nil || summary.ID == "" || summary.Content != "用户在计划旅行" || !summary.IsActive {
		t.Fatalf("expected persisted summary turn, got %+v", summary)
	}

	contents := llm.request(0).Contents
	if len(contents) != 3 {
		t.Fatalf("expected summary, retained turn and current message, got %d entries", len(contents))
	}
	if contents[0].Role != genai.RoleModel || utils.ExtractContentText(contents[0]) != "用户在计划旅行" {
		t.Fatalf("expected summary first as a model entry, got %+v", contents[0])
	}
	if utils.ExtractContentText(contents[1]) != "好主意" {
		t.Fatalf("expected the newest turn retained, got %+v", contents[1])
	}

	active, _ := f.messages.ListActive(context.Background(), "s1")
	var user types.Message
	for _, msg := range active {
		if msg.IsUser() {
			user = msg
		}
	}
	// 30 prompt tokens minus the summary (2) and the retained turn (5)
	if user.TokenCount != 30 || user.BodyTokenCount != 23 {
		t.Fatalf("unexpected user token back-fill: %+v", user)
	}
}

func TestCreateSessionDefaults(t *testing.T) {
	f := newFixture(t, &mockLLM{}, nil)

	session, err := f.svc.CreateSession(context.Background(), types.NewSessionRequest{
		SystemPrompt:     "你是翻译",
		AgentModelConfig: &types.ModelConfig{ModelID: "m"},
		MultiModal:       true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(session.ID, "session-") || session.Title != types.DefaultSessionTitle {
		t.Fatalf("unexpected session: %+v", session)
	}
	agent, err := f.agents.Get(context.Background(), session.AgentID)
	if err != nil || !strings.HasPrefix(agent.ID, "agent-") || agent.SystemPrompt != "你是翻译" || !agent.MultiModal {
		t.Fatalf("unexpected agent: %+v err=%v", agent, err)
	}

	named, err := f.svc.CreateSession(context.Background(), types.NewSessionRequest{Title: "翻译练习"})
	if err != nil || named.Title != "翻译练习" {
		t.Fatalf("expected explicit title kept, got %+v err=%v", named, err)
	}

	sessions, _ := f.svc.ListSessions(context.Background())
	if len(sessions) != 3 {
		t.Fatalf("expected fixture session plus two new ones, got %d", len(sessions))
	}
}

func TestStreamFallsBackToPlaceholder(t *testing.T) {
	f := newFixture(t, &mockLLM{}, nil)
	e := f.svc.Stream(context.Background(), "nobody", 10*time.Millisecond)
	if !e.Closed() {
		t.Fatalf("expected placeholder stream to be closed")
	}
}

func TestBuildContentsOrder(t *testing.T) {
	r := &run{turn: &Turn{
		SessionID: "s1",
		Message:   "这张图呢",
		FileURLs:  []string{"https://cdn.example.com/b.png?x=1"},
		Agent:     &types.Agent{},
		History: []types.Message{
			{Role: types.RoleUser, Content: "看看这个", FileURLs: []string{"https://cdn.example.com/a.jpg"}},
			{Role: types.RoleSummary, Content: "之前聊了图片"},
			{Role: types.RoleAssistant, Content: "是一只猫"},
			{Role: types.RoleAssistant, Content: ""},
		},
	}}

	contents := r.buildContents()
	if len(contents) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(contents))
	}
	if utils.ExtractContentText(contents[0]) != "之前聊了图片" {
		t.Fatalf("expected summary first")
	}
	first := contents[1]
	if len(first.Parts) != 2 || first.Parts[0].FileData == nil || first.Parts[0].FileData.MIMEType != "image/jpeg" || first.Parts[1].Text != "看看这个" {
		t.Fatalf("expected attachment before text, got %+v", first.Parts)
	}
	if contents[2].Role != genai.RoleModel {
		t.Fatalf("expected assistant replay as model role")
	}
	attachments := contents[3]
	if attachments.Parts[0].FileData == nil || attachments.Parts[0].FileData.MIMEType != "image/png" {
		t.Fatalf("expected current attachment entry, got %+v", attachments.Parts)
	}
	if utils.ExtractContentText(contents[4]) != "这张图呢" {
		t.Fatalf("expected current message last")
	}
}

func TestUserBodyTokens(t *testing.T) {
	history := []types.Message{{BodyTokenCount: 10}, {BodyTokenCount: 15}}
	if got := userBodyTokens(40, history); got != 15 {
		t.Fatalf("expected 15, got %d", got)
	}
	if got := userBodyTokens(20, history); got != 0 {
		t.Fatalf("expected clamp at zero, got %d", got)
	}
}

type panickyHooks struct{ NopHooks }

func (panickyHooks) OnChatStart(context.Context, *Turn) { panic("boom") }

func TestWrapHooksRecoversPanics(t *testing.T) {
	h := WrapHooks("test", MultiHooks{panickyHooks{}, LoggingHooks{}})
	h.OnChatStart(context.Background(), &Turn{SessionID: "s1"})

	if _, ok := WrapHooks("nil", nil).(NopHooks); !ok {
		t.Fatalf("expected NopHooks for nil")
	}
}
