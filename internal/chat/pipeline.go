package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/agent-chat/internal/agent"
	"github.com/easeaico/agent-chat/internal/memory"
	"github.com/easeaico/agent-chat/internal/models"
	"github.com/easeaico/agent-chat/internal/prompt"
	"github.com/easeaico/agent-chat/internal/registry"
	"github.com/easeaico/agent-chat/internal/stream"
	"github.com/easeaico/agent-chat/internal/tool"
	"github.com/easeaico/agent-chat/internal/types"
)

const (
	toolNoticePrefix = "执行工具："
	// autoTitleMaxMessages is the session size up to which a completed turn renames the session.
	autoTitleMaxMessages = 3
	defaultFileMIMEType  = "image/jpeg"
)

var errStreamClosed = errors.New("stream closed before the answer completed")

// State is the lifecycle state of one chat run.
type State int

const (
	StateCreated State = iota
	StateStreaming
	StateCompleted
	StateErrored
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateStreaming:
		return "STREAMING"
	case StateCompleted:
		return "COMPLETED"
	case StateErrored:
		return "ERRORED"
	case StateInterrupted:
		return "INTERRUPTED"
	default:
		return "UNKNOWN"
	}
}

func (s State) terminal() bool {
	return s >= StateCompleted
}

// Turn is the input of one pipeline run: the request plus the session state loaded for it.
type Turn struct {
	SessionID string
	Message   string
	FileURLs  []string
	Agent     *types.Agent
	// History is the active history after the budget step, oldest first.
	History []types.Message
	// PendingSummary is a summary produced by the budget step that is not persisted yet.
	PendingSummary *types.Message
}

// run is the mutable state of one streaming turn.
type run struct {
	svc     *Service
	turn    *Turn
	emitter *stream.Emitter
	record  *registry.Record
	hooks   Hooks
	ctx     context.Context
	llm     model.LLM
	user    *types.Message

	mu    sync.Mutex
	state State
	buf   strings.Builder
}

// start runs phases one to six synchronously and hands the model stream to its own goroutine. The
// returned emitter is always usable: setup failures are reported on it as an error frame.
func (s *Service) start(ctx context.Context, turn *Turn) *stream.Emitter {
	emitter := stream.New(s.opts.StreamTimeout)
	record := s.registry.Register(turn.SessionID, emitter)

	runCtx, cancel := context.WithCancel(tool.WithSessionID(context.WithoutCancel(ctx), turn.SessionID))
	r := &run{
		svc:     s,
		turn:    turn,
		emitter: emitter,
		record:  record,
		hooks:   s.hooks,
		ctx:     runCtx,
	}
	emitter.OnClose(func() {
		r.closed()
		cancel()
	})
	r.hooks.OnChatStart(runCtx, turn)

	r.persistTurns()

	llm, err := s.models(runCtx, turn.Agent.AgentModelConfig)
	if err != nil {
		r.fail(types.PhaseEnvironmentPreparation, fmt.Errorf("failed to create model: %w", err))
		return emitter
	}
	r.llm = llm

	memorySection := r.memorySection()
	contents := r.buildContents()
	cfg := models.GenerateConfig(turn.Agent.AgentModelConfig)
	presetBlock, err := prompt.PresetToolBlock(turn.Agent.ToolPresetParams)
	if err != nil {
		slog.Warn("failed to render preset tool block", "session_id", turn.SessionID, "error", err.Error())
	}
	cfg.SystemInstruction = genai.NewContentFromText(
		prompt.SystemPrompt(turn.Agent.SystemPrompt, presetBlock, memorySection),
		genai.RoleUser,
	)

	runner := agent.NewRunner(llm, s.toolsFor(turn), s.opts.MaxToolRounds)

	r.mu.Lock()
	if r.state == StateCreated {
		r.state = StateStreaming
	}
	r.mu.Unlock()

	go r.consume(runner, contents, cfg)
	return emitter
}

// persistTurns stores the pending summary and the user turn. Failures are logged; the turn still runs.
func (r *run) persistTurns() {
	turn := r.turn
	messages := r.svc.messages

	if summary := turn.PendingSummary; summary != nil {
		if summary.ID == "" {
			summary.ID = uuid.NewString()
		}
		if err := messages.Create(r.ctx, summary); err != nil {
			slog.Error("failed to persist summary", "session_id", turn.SessionID, "error", err.Error())
		}
	}

	r.user = &types.Message{
		ID:          uuid.NewString(),
		SessionID:   turn.SessionID,
		Role:        types.RoleUser,
		Content:     turn.Message,
		MessageType: types.MessageTypeText,
		FileURLs:    turn.FileURLs,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}
	if err := messages.Create(r.ctx, r.user); err != nil {
		slog.Error("failed to persist user message", "session_id", turn.SessionID, "error", err.Error())
		r.hooks.OnChatError(r.ctx, turn, types.PhaseInitialization, err)
		return
	}
	r.hooks.OnUserMessageProcessed(r.ctx, turn, r.user)
}

func (r *run) memorySection() string {
	if r.svc.memory == nil || r.turn.Agent.EmbeddingModelConfig == nil {
		return ""
	}
	results := r.svc.memory.SearchRelevant(r.ctx, r.turn.SessionID, r.turn.Message, r.svc.opts.MemoryTopK)
	return memory.RenderSection(memory.SectionTitle, results, r.svc.opts.MemoryTopK)
}

// buildContents lays out the model context: summaries first, then the remaining history, then the
// current attachments and the current message.
func (r *run) buildContents() []*genai.Content {
	turn := r.turn
	contents := make([]*genai.Content, 0, len(turn.History)+2)

	for _, msg := range turn.History {
		if msg.IsSummary() && msg.Content != "" {
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		}
	}

	for _, msg := range turn.History {
		switch {
		case msg.IsSummary():
			continue
		case msg.IsUser():
			parts := fileParts(msg.FileURLs)
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
			}
		case msg.IsAssistant():
			if msg.Content != "" {
				contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
			}
		case msg.IsSystem():
			if msg.Content != "" {
				contents = append(contents, genai.NewContentFromText(msg.Content, "system"))
			}
		}
	}

	if parts := fileParts(turn.FileURLs); len(parts) > 0 {
		contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
	}
	contents = append(contents, genai.NewContentFromText(turn.Message, genai.RoleUser))
	return contents
}

func fileParts(urls []string) []*genai.Part {
	parts := make([]*genai.Part, 0, len(urls))
	for _, raw := range urls {
		if raw = strings.TrimSpace(raw); raw == "" {
			continue
		}
		parts = append(parts, genai.NewPartFromURI(raw, fileMIMEType(raw)))
	}
	return parts
}

func fileMIMEType(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	if t := mime.TypeByExtension(path.Ext(p)); t != "" {
		return strings.SplitN(t, ";", 2)[0]
	}
	return defaultFileMIMEType
}

// consume drains the runner and maps its events onto frames, persistence and hooks.
func (r *run) consume(runner *agent.Runner, contents []*genai.Content, cfg *genai.GenerateContentConfig) {
	for ev := range runner.Run(r.ctx, contents, cfg) {
		var keep bool
		switch ev.Kind {
		case agent.EventPartial:
			keep = r.onPartial(ev.Text)
		case agent.EventToolExecuted:
			keep = r.onToolExecuted(ev.Tool)
		case agent.EventError:
			r.onError(ev)
			keep = false
		case agent.EventComplete:
			r.onComplete(ev)
			keep = false
		}
		if !keep {
			return
		}
	}
}

func (r *run) onPartial(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.terminal() {
		return false
	}
	r.buf.WriteString(text)
	if strings.TrimSpace(r.buf.String()) == "" {
		return true
	}
	r.emitter.SendData(types.NewFrame(text, types.MessageTypeText))
	return true
}

func (r *run) onToolExecuted(exec *agent.ToolExecution) bool {
	if exec == nil {
		return true
	}

	r.mu.Lock()
	if r.state.terminal() {
		r.mu.Unlock()
		return false
	}
	if r.buf.Len() > 0 {
		r.emitter.SendData(types.NewDoneFrame("", types.MessageTypeText))
		r.persistAssistant(r.buf.String(), types.MessageTypeText, 0)
		r.buf.Reset()
	}
	notice := toolNoticePrefix + exec.Name
	r.persistAssistant(notice, types.MessageTypeToolCall, 0)
	r.emitter.SendData(types.NewDoneFrame(notice, types.MessageTypeToolCall))
	r.mu.Unlock()

	r.hooks.OnToolCallCompleted(r.ctx, r.turn, types.ToolCallInfo{
		ToolName:     exec.Name,
		RequestArgs:  exec.Args,
		ResponseData: exec.Result,
		Success:      exec.Success,
	})
	return true
}

func (r *run) onError(ev agent.Event) {
	err := ev.Err
	if err == nil {
		err = errors.New("model call failed")
	}

	r.mu.Lock()
	if r.state.terminal() {
		r.mu.Unlock()
		return
	}
	r.state = StateErrored
	r.emitter.SendData(types.NewDoneFrame(err.Error(), types.MessageTypeText))
	r.mu.Unlock()

	r.hooks.OnChatError(r.ctx, r.turn, types.PhaseModelCall, err)
	r.hooks.OnChatCompleted(r.ctx, r.turn, false, err.Error())
	r.emitter.Complete()
}

func (r *run) onComplete(ev agent.Event) {
	r.mu.Lock()
	if r.state.terminal() {
		r.mu.Unlock()
		return
	}
	r.state = StateCompleted

	if r.user != nil {
		r.user.TokenCount = ev.Usage.InputTokens
		r.user.BodyTokenCount = userBodyTokens(ev.Usage.InputTokens, r.turn.History)
		if err := r.svc.messages.UpdateTokens(r.ctx, r.user); err != nil {
			slog.Error("failed to update user message tokens", "session_id", r.turn.SessionID, "error", err.Error())
		}
	}
	r.persistAssistant(ev.Text, types.MessageTypeText, ev.Usage.OutputTokens)
	r.buf.Reset()
	r.emitter.SendData(types.NewDoneFrame("", types.MessageTypeText))
	r.mu.Unlock()

	r.hooks.OnModelCallCompleted(r.ctx, r.turn, r.callInfo(ev, nil))
	r.hooks.OnChatCompleted(r.ctx, r.turn, true, "")
	r.svc.afterTurn(r.turn, r.llm)
	r.emitter.Complete()
}

// closed runs when the emitter closes. A close the run did not initiate ends it as interrupted or,
// on timeout and client disconnect, as errored.
func (r *run) closed() {
	r.mu.Lock()
	if r.state.terminal() {
		r.mu.Unlock()
		return
	}
	interrupted := r.record.Interrupted()
	if interrupted {
		r.state = StateInterrupted
	} else {
		r.state = StateErrored
	}
	err := r.emitter.Err()
	r.mu.Unlock()

	if interrupted {
		r.hooks.OnChatCompleted(r.ctx, r.turn, false, "interrupted")
		return
	}
	if err == nil {
		err = errStreamClosed
	}
	r.hooks.OnChatError(r.ctx, r.turn, types.PhaseResultProcessing, err)
	r.hooks.OnChatCompleted(r.ctx, r.turn, false, err.Error())
}

// fail ends a run that could not reach the model.
func (r *run) fail(phase types.ExecutionPhase, err error) {
	r.mu.Lock()
	if r.state.terminal() {
		r.mu.Unlock()
		return
	}
	r.state = StateErrored
	r.emitter.SendData(types.NewDoneFrame(err.Error(), types.MessageTypeText))
	r.mu.Unlock()

	r.hooks.OnChatError(r.ctx, r.turn, phase, err)
	r.hooks.OnChatCompleted(r.ctx, r.turn, false, err.Error())
	r.emitter.Complete()
}

// persistAssistant stores an assistant turn. Callers hold r.mu.
func (r *run) persistAssistant(content string, messageType types.MessageType, tokens int) {
	msg := &types.Message{
		ID:             uuid.NewString(),
		SessionID:      r.turn.SessionID,
		Role:           types.RoleAssistant,
		Content:        content,
		MessageType:    messageType,
		TokenCount:     tokens,
		BodyTokenCount: tokens,
		Model:          r.modelName(),
		IsActive:       true,
		CreatedAt:      time.Now(),
	}
	if err := r.svc.messages.Create(r.ctx, msg); err != nil {
		slog.Error("failed to persist assistant message", "session_id", r.turn.SessionID, "error", err.Error())
	}
}

func (r *run) modelName() string {
	if cfg := r.turn.Agent.AgentModelConfig; cfg != nil {
		return cfg.Endpoint()
	}
	return ""
}

func (r *run) callInfo(ev agent.Event, err error) types.ModelCallInfo {
	info := types.ModelCallInfo{
		ModelEndpoint: r.modelName(),
		InputTokens:   ev.Usage.InputTokens,
		OutputTokens:  ev.Usage.OutputTokens,
		CallTime:      ev.Duration,
		Success:       err == nil,
	}
	if err != nil {
		info.Error = err.Error()
	}
	return info
}

// userBodyTokens is the share of the prompt that belongs to the new user turn. The carried history
// counts its own body tokens.
func userBodyTokens(inputTokens int, history []types.Message) int {
	carried := 0
	for _, msg := range history {
		carried += msg.BodyTokenCount
	}
	if body := inputTokens - carried; body > 0 {
		return body
	}
	return 0
}
