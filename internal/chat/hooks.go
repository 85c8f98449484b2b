package chat

import (
	"context"
	"log/slog"

	"github.com/easeaico/agent-chat/internal/types"
)

// Hooks observes the lifecycle of one chat turn. Calls for a turn never overlap.
type Hooks interface {
	OnChatStart(ctx context.Context, turn *Turn)
	OnUserMessageProcessed(ctx context.Context, turn *Turn, msg *types.Message)
	OnModelCallCompleted(ctx context.Context, turn *Turn, info types.ModelCallInfo)
	OnToolCallCompleted(ctx context.Context, turn *Turn, info types.ToolCallInfo)
	OnChatCompleted(ctx context.Context, turn *Turn, success bool, errMsg string)
	OnChatError(ctx context.Context, turn *Turn, phase types.ExecutionPhase, err error)
}

// NopHooks ignores every event. Embed it to implement only some of the methods.
type NopHooks struct{}

var _ Hooks = NopHooks{}

func (NopHooks) OnChatStart(context.Context, *Turn)                               {}
func (NopHooks) OnUserMessageProcessed(context.Context, *Turn, *types.Message)    {}
func (NopHooks) OnModelCallCompleted(context.Context, *Turn, types.ModelCallInfo) {}
func (NopHooks) OnToolCallCompleted(context.Context, *Turn, types.ToolCallInfo)   {}
func (NopHooks) OnChatCompleted(context.Context, *Turn, bool, string)             {}
func (NopHooks) OnChatError(context.Context, *Turn, types.ExecutionPhase, error)  {}

// LoggingHooks writes every event to slog.
type LoggingHooks struct{}

var _ Hooks = LoggingHooks{}

func (LoggingHooks) OnChatStart(_ context.Context, turn *Turn) {
	slog.Info("chat start", "session_id", turn.SessionID, "attachments", len(turn.FileURLs))
}

func (LoggingHooks) OnUserMessageProcessed(_ context.Context, turn *Turn, msg *types.Message) {
	slog.Debug("user message persisted", "session_id", turn.SessionID, "message_id", msg.ID)
}

func (LoggingHooks) OnModelCallCompleted(_ context.Context, turn *Turn, info types.ModelCallInfo) {
	slog.Info("model call completed",
		"session_id", turn.SessionID,
		"model", info.ModelEndpoint,
		"input_tokens", info.InputTokens,
		"output_tokens", info.OutputTokens,
		"duration", info.CallTime,
	)
}

func (LoggingHooks) OnToolCallCompleted(_ context.Context, turn *Turn, info types.ToolCallInfo) {
	slog.Info("tool call completed", "session_id", turn.SessionID, "tool", info.ToolName, "success", info.Success)
}

func (LoggingHooks) OnChatCompleted(_ context.Context, turn *Turn, success bool, errMsg string) {
	if success {
		slog.Info("chat completed", "session_id", turn.SessionID)
		return
	}
	slog.Warn("chat ended without success", "session_id", turn.SessionID, "error", errMsg)
}

func (LoggingHooks) OnChatError(_ context.Context, turn *Turn, phase types.ExecutionPhase, err error) {
	slog.Error("chat error", "session_id", turn.SessionID, "phase", string(phase), "error", err.Error())
}

// MultiHooks fans every event out to its members in order.
type MultiHooks []Hooks

var _ Hooks = MultiHooks(nil)

func (m MultiHooks) OnChatStart(ctx context.Context, turn *Turn) {
	for _, h := range m {
		h.OnChatStart(ctx, turn)
	}
}

func (m MultiHooks) OnUserMessageProcessed(ctx context.Context, turn *Turn, msg *types.Message) {
	for _, h := range m {
		h.OnUserMessageProcessed(ctx, turn, msg)
	}
}

func (m MultiHooks) OnModelCallCompleted(ctx context.Context, turn *Turn, info types.ModelCallInfo) {
	for _, h := range m {
		h.OnModelCallCompleted(ctx, turn, info)
	}
}

func (m MultiHooks) OnToolCallCompleted(ctx context.Context, turn *Turn, info types.ToolCallInfo) {
	for _, h := range m {
		h.OnToolCallCompleted(ctx, turn, info)
	}
}

func (m MultiHooks) OnChatCompleted(ctx context.Context, turn *Turn, success bool, errMsg string) {
	for _, h := range m {
		h.OnChatCompleted(ctx, turn, success, errMsg)
	}
}

func (m MultiHooks) OnChatError(ctx context.Context, turn *Turn, phase types.ExecutionPhase, err error) {
	for _, h := range m {
		h.OnChatError(ctx, turn, phase, err)
	}
}

// safeHooks recovers panics raised by the wrapped hooks so they cannot break a stream.
type safeHooks struct {
	name  string
	inner Hooks
}

// WrapHooks returns h guarded against panics. A nil h yields NopHooks.
func WrapHooks(name string, h Hooks) Hooks {
	if h == nil {
		return NopHooks{}
	}
	if s, ok := h.(*safeHooks); ok {
		return s
	}
	return &safeHooks{name: name, inner: h}
}

func (s *safeHooks) guard(event string) {
	if err := recover(); err != nil {
		slog.Error("chat hook panic", "name", s.name, "event", event, "error", err)
	}
}

func (s *safeHooks) OnChatStart(ctx context.Context, turn *Turn) {
	defer s.guard("chat_start")
	s.inner.OnChatStart(ctx, turn)
}

func (s *safeHooks) OnUserMessageProcessed(ctx context.Context, turn *Turn, msg *types.Message) {
	defer s.guard("user_message_processed")
	s.inner.OnUserMessageProcessed(ctx, turn, msg)
}

func (s *safeHooks) OnModelCallCompleted(ctx context.Context, turn *Turn, info types.ModelCallInfo) {
	defer s.guard("model_call_completed")
	s.inner.OnModelCallCompleted(ctx, turn, info)
}

func (s *safeHooks) OnToolCallCompleted(ctx context.Context, turn *Turn, info types.ToolCallInfo) {
	defer s.guard("tool_call_completed")
	s.inner.OnToolCallCompleted(ctx, turn, info)
}

func (s *safeHooks) OnChatCompleted(ctx context.Context, turn *Turn, success bool, errMsg string) {
	defer s.guard("chat_completed")
	s.inner.OnChatCompleted(ctx, turn, success, errMsg)
}

func (s *safeHooks) OnChatError(ctx context.Context, turn *Turn, phase types.ExecutionPhase, err error) {
	defer s.guard("chat_error")
	s.inner.OnChatError(ctx, turn, phase, err)
}
