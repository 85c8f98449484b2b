// Package chat runs conversation turns: it loads the session, keeps history within budget, streams
// the model answer as frames and persists every turn.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/adk/model"

	"github.com/easeaico/agent-chat/internal/agent"
	"github.com/easeaico/agent-chat/internal/budget"
	"github.com/easeaico/agent-chat/internal/memory"
	"github.com/easeaico/agent-chat/internal/models"
	"github.com/easeaico/agent-chat/internal/registry"
	"github.com/easeaico/agent-chat/internal/stream"
	"github.com/easeaico/agent-chat/internal/tool"
	"github.com/easeaico/agent-chat/internal/types"
	"github.com/easeaico/agent-chat/internal/worker"
)

type SessionStore interface {
	Create(ctx context.Context, session *types.Session) error
	Get(ctx context.Context, id string) (*types.Session, error)
	List(ctx context.Context) ([]types.Session, error)
	UpdateTitle(ctx context.Context, id, title string) error
}

type AgentStore interface {
	Create(ctx context.Context, agent *types.Agent) error
	Get(ctx context.Context, id string) (*types.Agent, error)
}

type MessageStore interface {
	Create(ctx context.Context, msg *types.Message) error
	UpdateTokens(ctx context.Context, msg *types.Message) error
	ListActive(ctx context.Context, sessionID string) ([]types.Message, error)
	CountBySession(ctx context.Context, sessionID string) (int, error)
	Deactivate(ctx context.Context, ids []string) error
}

// MemoryStore is long-term memory as seen by a chat: recall before the turn, save after it.
type MemoryStore interface {
	tool.MemorySearcher
	SaveMemories(ctx context.Context, sessionID string, candidates []*types.CandidateMemory) ([]string, error)
}

// Interrupter stops the live stream of a session, possibly on another replica.
type Interrupter interface {
	Interrupt(ctx context.Context, sessionID string) (types.InterruptResult, error)
}

// Deps are the collaborators of a Service. Memory, Interrupter, Models and Hooks are optional.
type Deps struct {
	Sessions    SessionStore
	Agents      AgentStore
	Messages    MessageStore
	Memory      MemoryStore
	Registry    *registry.Registry
	Interrupter Interrupter
	Pool        *worker.Pool
	Models      models.Factory
	Hooks       Hooks
}

// Options tune a Service.
type Options struct {
	StreamTimeout time.Duration
	MemoryTopK    int
	MaxToolRounds int
}

type Service struct {
	sessions    SessionStore
	agents      AgentStore
	messages    MessageStore
	memory      MemoryStore
	registry    *registry.Registry
	interrupter Interrupter
	pool        *worker.Pool
	models      models.Factory
	hooks       Hooks
	extractor   *memory.Extractor
	opts        Options
}

func NewService(deps Deps, opts Options) *Service {
	if deps.Registry == nil {
		deps.Registry = registry.New()
	}
	if deps.Interrupter == nil {
		deps.Interrupter = localInterrupter{registry: deps.Registry}
	}
	if deps.Models == nil {
		deps.Models = models.NewModel
	}
	if opts.MemoryTopK <= 0 {
		opts.MemoryTopK = memory.DefaultTopK
	}
	return &Service{
		sessions:    deps.Sessions,
		agents:      deps.Agents,
		messages:    deps.Messages,
		memory:      deps.Memory,
		registry:    deps.Registry,
		interrupter: deps.Interrupter,
		pool:        deps.Pool,
		models:      deps.Models,
		hooks:       WrapHooks("chat", deps.Hooks),
		extractor:   memory.NewExtractor(),
		opts:        opts,
	}
}

// Chat validates req, prepares the turn and starts streaming it. Validation and lookup errors are
// returned before anything is persisted; everything after that is reported on the stream.
func (s *Service) Chat(ctx context.Context, req types.ChatRequest) (*stream.Emitter, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", types.ErrInvalidRequest)
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionId is required", types.ErrInvalidRequest)
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	profile, err := s.agents.Get(ctx, session.AgentID)
	if err != nil {
		return nil, err
	}
	if profile.AgentModelConfig == nil {
		return nil, fmt.Errorf("%w: agent %s has no model config", types.ErrInvalidRequest, profile.ID)
	}

	history, err := s.messages.ListActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	turn := &Turn{
		SessionID: sessionID,
		Message:   req.Message,
		FileURLs:  req.FileURLs,
		Agent:     profile,
		History:   history,
	}
	s.applyBudget(ctx, turn)

	return s.start(ctx, turn), nil
}

// applyBudget shrinks turn.History with the agent's strategy and deactivates the dropped turns.
// A failing strategy leaves the history unchanged.
func (s *Service) applyBudget(ctx context.Context, turn *Turn) {
	cfg := turn.Agent.AgentModelConfig.BudgetConfig()

	var summarizer budget.Summarizer
	if cfg.StrategyType == types.StrategySummarize {
		llm, err := s.models(ctx, turn.Agent.AgentModelConfig)
		if err != nil {
			slog.Warn("summarizer model unavailable", "session_id", turn.SessionID, "error", err.Error())
		} else {
			summarizer = agent.NewHistorySummarizer(llm)
		}
	}

	result, err := budget.New(cfg, summarizer).Process(ctx, turn.History)
	if err != nil {
		slog.Warn("token budget strategy failed", "session_id", turn.SessionID, "strategy", string(cfg.StrategyType), "error", err.Error())
		return
	}
	if !result.Processed {
		return
	}

	ids := make([]string, 0, len(result.Dropped))
	for _, msg := range result.Dropped {
		ids = append(ids, msg.ID)
	}
	if err := s.messages.Deactivate(ctx, ids); err != nil {
		slog.Error("failed to deactivate dropped messages", "session_id", turn.SessionID, "error", err.Error())
	}
	turn.History = result.Retained
	turn.PendingSummary = result.Summary
	slog.Info("history trimmed",
		"session_id", turn.SessionID,
		"strategy", string(cfg.StrategyType),
		"dropped", len(ids),
		"summarized", result.Summary != nil,
	)
}

func (s *Service) toolsFor(turn *Turn) *tool.Provider {
	provider := tool.NewProvider()
	if s.memory != nil && turn.Agent.EmbeddingModelConfig != nil {
		provider.Add(tool.NewRecallMemoryTool(s.memory, s.opts.MemoryTopK))
	}
	return provider
}

// afterTurn schedules the background work of a completed turn.
func (s *Service) afterTurn(turn *Turn, llm model.LLM) {
	if s.pool == nil || llm == nil {
		return
	}
	sessionID, message := turn.SessionID, turn.Message

	if s.memory != nil && turn.Agent.EmbeddingModelConfig != nil {
		s.pool.Go("memory-extract:"+sessionID, func(ctx context.Context) error {
			candidates, err := s.extractor.Extract(ctx, llm, message)
			if err != nil || len(candidates) == 0 {
				return err
			}
			_, err = s.memory.SaveMemories(ctx, sessionID, candidates)
			return err
		})
	}

	s.pool.Go("auto-title:"+sessionID, func(ctx context.Context) error {
		return s.autoTitle(ctx, sessionID, message, llm)
	})
}

// autoTitle renames a young session after its first message.
func (s *Service) autoTitle(ctx context.Context, sessionID, message string, llm model.LLM) error {
	count, err := s.messages.CountBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if count > autoTitleMaxMessages {
		return nil
	}
	title, err := agent.NewTitler(llm).Title(ctx, message)
	if err != nil {
		return err
	}
	if err := s.sessions.UpdateTitle(ctx, sessionID, title); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return err
	}
	slog.Info("session renamed", "session_id", sessionID, "title", title)
	return nil
}

// CreateSession stores a new agent and a session bound to it.
func (s *Service) CreateSession(ctx context.Context, req types.NewSessionRequest) (*types.Session, error) {
	profile := &types.Agent{
		ID:                   "agent-" + uuid.NewString(),
		AgentModelConfig:     req.AgentModelConfig,
		EmbeddingModelConfig: req.EmbeddingModelConfig,
		SystemPrompt:         req.SystemPrompt,
		WelcomeMessage:       req.WelcomeMessage,
		MultiModal:           req.MultiModal,
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = types.DefaultSessionTitle
	}
	session := &types.Session{
		ID:        "session-" + uuid.NewString(),
		Title:     title,
		AgentID:   profile.ID,
		CreatedAt: time.Now(),
	}

	if err := s.agents.Create(ctx, profile); err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	slog.Info("session created", "session_id", session.ID, "agent_id", profile.ID)
	return session, nil
}

// ListSessions returns every session, newest first.
func (s *Service) ListSessions(ctx context.Context) ([]types.Session, error) {
	return s.sessions.List(ctx)
}

// HistoryMessages returns the active turns of a session, oldest first.
func (s *Service) HistoryMessages(ctx context.Context, sessionID string) ([]types.Message, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: sessionId is required", types.ErrInvalidRequest)
	}
	return s.messages.ListActive(ctx, sessionID)
}

// Interrupt stops the live stream of sessionID, here or, with a bus, on another replica.
func (s *Service) Interrupt(ctx context.Context, sessionID string) (types.InterruptResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return types.InterruptNotLive, fmt.Errorf("%w: sessionId is required", types.ErrInvalidRequest)
	}
	return s.interrupter.Interrupt(ctx, sessionID)
}

// Stream returns the live stream of sessionID, waiting up to wait for one to register. Without
// one it returns an already completed placeholder.
func (s *Service) Stream(ctx context.Context, sessionID string, wait time.Duration) *stream.Emitter {
	if e, ok := s.registry.Await(ctx, sessionID, wait); ok {
		return e
	}
	return stream.Empty()
}

type localInterrupter struct {
	registry *registry.Registry
}

func (l localInterrupter) Interrupt(_ context.Context, sessionID string) (types.InterruptResult, error) {
	if l.registry.Interrupt(sessionID) {
		return types.InterruptApplied, nil
	}
	return types.InterruptNotLive, nil
}
