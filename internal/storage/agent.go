package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/easeaico/agent-chat/internal/types"
)

type agentModel struct {
	ID                   string `gorm:"primaryKey;size:64"`
	Name                 string
	Avatar               string
	Description          string
	AgentModelConfig     datatypes.JSONType[*types.ModelConfig]
	EmbeddingModelConfig datatypes.JSONType[*types.ModelConfig]
	SystemPrompt         string
	WelcomeMessage       string
	ToolIDs              datatypes.JSONSlice[string]
	KnowledgeBaseIDs     datatypes.JSONSlice[string]
	ToolPresetParams     datatypes.JSONType[map[string]map[string]map[string]string]
	MultiModal           bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (agentModel) TableName() string {
	return "agents"
}

// AgentRepo accesses agent profiles.
type AgentRepo struct {
	db *gorm.DB
}

func NewAgentRepo(db *gorm.DB) *AgentRepo {
	return &AgentRepo{db: db}
}

func (r *AgentRepo) Create(ctx context.Context, agent *types.Agent) error {
	if agent == nil {
		return fmt.Errorf("agent cannot be nil")
	}
	record := agentToModel(agent)
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

func (r *AgentRepo) Get(ctx context.Context, id string) (*types.Agent, error) {
	var record agentModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("agent %s: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agentFromModel(record), nil
}

func agentToModel(agent *types.Agent) agentModel {
	return agentModel{
		ID:                   agent.ID,
		Name:                 agent.Name,
		Avatar:               agent.Avatar,
		Description:          agent.Description,
		AgentModelConfig:     datatypes.NewJSONType(agent.AgentModelConfig),
		EmbeddingModelConfig: datatypes.NewJSONType(agent.EmbeddingModelConfig),
		SystemPrompt:         agent.SystemPrompt,
		WelcomeMessage:       agent.WelcomeMessage,
		ToolIDs:              datatypes.JSONSlice[string](agent.ToolIDs),
		KnowledgeBaseIDs:     datatypes.JSONSlice[string](agent.KnowledgeBaseIDs),
		ToolPresetParams:     datatypes.NewJSONType(agent.ToolPresetParams),
		MultiModal:           agent.MultiModal,
	}
}

func agentFromModel(model agentModel) *types.Agent {
	return &types.Agent{
		ID:                   model.ID,
		Name:                 model.Name,
		Avatar:               model.Avatar,
		Description:          model.Description,
		AgentModelConfig:     model.AgentModelConfig.Data(),
		EmbeddingModelConfig: model.EmbeddingModelConfig.Data(),
		SystemPrompt:         model.SystemPrompt,
		WelcomeMessage:       model.WelcomeMessage,
		ToolIDs:              []string(model.ToolIDs),
		KnowledgeBaseIDs:     []string(model.KnowledgeBaseIDs),
		ToolPresetParams:     model.ToolPresetParams.Data(),
		MultiModal:           model.MultiModal,
	}
}
