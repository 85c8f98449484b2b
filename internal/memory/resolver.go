package memory

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/easeaico/agent-chat/internal/types"
)

// EmbedderResolver 返回某个 session 应使用的 Embedder。
type EmbedderResolver interface {
	EmbedderFor(ctx context.Context, sessionID string) (Embedder, error)
}

// AgentLookup 根据 session 找到其所属的 agent。
type AgentLookup interface {
	AgentForSession(ctx context.Context, sessionID string) (*types.Agent, error)
}

// EmbedderFactory 根据模型配置创建 Embedder。
type EmbedderFactory func(ctx context.Context, cfg *types.ModelConfig, dimensions int) (Embedder, error)

// AgentEmbedders 通过 session -> agent -> EmbeddingModelConfig 解析 Embedder，并按 agent 缓存。
type AgentEmbedders struct {
	agents     AgentLookup
	factory    EmbedderFactory
	dimensions int

	cache sync.Map // agent id -> Embedder
	group singleflight.Group
}

func NewAgentEmbedders(agents AgentLookup, factory EmbedderFactory, dimensions int) *AgentEmbedders {
	if factory == nil {
		factory = NewEmbedder
	}
	return &AgentEmbedders{agents: agents, factory: factory, dimensions: dimensions}
}

// EmbedderFor 在 agent 没有配置向量模型时返回 types.ErrEmbeddingNotConfigured。
func (r *AgentEmbedders) EmbedderFor(ctx context.Context, sessionID string) (Embedder, error) {
	agent, err := r.agents.AgentForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve agent: %w", err)
	}
	if agent == nil || agent.EmbeddingModelConfig == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, types.ErrEmbeddingNotConfigured)
	}
	if cached, ok := r.cache.Load(agent.ID); ok {
		return cached.(Embedder), nil
	}

	v, err, _ := r.group.Do(agent.ID, func() (any, error) {
		if cached, ok := r.cache.Load(agent.ID); ok {
			return cached, nil
		}
		embedder, err := r.factory(ctx, agent.EmbeddingModelConfig, r.dimensions)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		r.cache.Store(agent.ID, embedder)
		return embedder, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Embedder), nil
}
