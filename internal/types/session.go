package types

import (
	"strings"
	"time"
)

// DefaultSessionTitle is used when a session is created without a title.
const DefaultSessionTitle = "新的聊天"

// Session is a conversation owned by one agent.
type Session struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	AgentID   string            `json:"agentId"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createTime"`
}

// Agent is the persisted agent profile a session talks to.
type Agent struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name,omitempty"`
	Avatar               string       `json:"avatar,omitempty"`
	Description          string       `json:"description,omitempty"`
	AgentModelConfig     *ModelConfig `json:"agentModelConfig,omitempty"`
	EmbeddingModelConfig *ModelConfig `json:"embeddingModelConfig,omitempty"`
	SystemPrompt         string       `json:"systemPrompt"`
	WelcomeMessage       string       `json:"welcomeMessage,omitempty"`
	ToolIDs              []string     `json:"toolIds,omitempty"`
	KnowledgeBaseIDs     []string     `json:"knowledgeBaseIds,omitempty"`
	// ToolPresetParams maps tool provider name -> tool name -> parameter name -> value.
	ToolPresetParams map[string]map[string]map[string]string `json:"toolPresetParams,omitempty"`
	MultiModal       bool                                    `json:"multiModal"`
}

// ProviderProtocol selects the provider-facing call shape.
type ProviderProtocol string

const (
	ProtocolOpenAI    ProviderProtocol = "OPENAI"
	ProtocolAnthropic ProviderProtocol = "ANTHROPIC"
	ProtocolGemini    ProviderProtocol = "GEMINI"
)

// StrategyType selects how history is kept within the model context.
type StrategyType string

const (
	StrategyNone          StrategyType = "NONE"
	StrategySlidingWindow StrategyType = "SLIDING_WINDOW"
	StrategySummarize     StrategyType = "SUMMARIZE"
)

// ParseStrategyType maps free-form input to a StrategyType, defaulting to NONE.
func ParseStrategyType(s string) StrategyType {
	switch StrategyType(strings.ToUpper(strings.TrimSpace(s))) {
	case StrategySlidingWindow:
		return StrategySlidingWindow
	case StrategySummarize:
		return StrategySummarize
	default:
		return StrategyNone
	}
}

const (
	DefaultTemperature = 0.7
	DefaultTopP        = 0.7
	DefaultTopK        = 50
)

// ModelConfig holds the credentials, sampling and budget settings of one model.
type ModelConfig struct {
	APIKey        string           `json:"apiKey"`
	BaseURL       string           `json:"baseUrl"`
	ModelID       string           `json:"modelId"`
	ModelEndpoint string           `json:"modelEndpoint"`
	Protocol      ProviderProtocol `json:"protocol"`
	Temperature   *float64         `json:"temperature,omitempty"`
	TopP          *float64         `json:"topP,omitempty"`
	TopK          *int             `json:"topK,omitempty"`
	MaxTokens     int              `json:"maxTokens"`

	StrategyType     StrategyType `json:"strategyType"`
	ReserveRatio     float64      `json:"reserveRatio"`
	SummaryThreshold int          `json:"summaryThreshold"`
}

// Endpoint returns the model name sent to the provider.
func (c *ModelConfig) Endpoint() string {
	if c.ModelEndpoint != "" {
		return c.ModelEndpoint
	}
	return c.ModelID
}

func (c *ModelConfig) TemperatureOrDefault() float64 {
	if c.Temperature == nil {
		return DefaultTemperature
	}
	return *c.Temperature
}

func (c *ModelConfig) TopPOrDefault() float64 {
	if c.TopP == nil {
		return DefaultTopP
	}
	return *c.TopP
}

func (c *ModelConfig) TopKOrDefault() int {
	if c.TopK == nil {
		return DefaultTopK
	}
	return *c.TopK
}

// BudgetConfig derives the token budget settings for this model.
func (c *ModelConfig) BudgetConfig() TokenBudgetConfig {
	if c == nil {
		return TokenBudgetConfig{StrategyType: StrategyNone}
	}
	strategy := c.StrategyType
	if strategy == "" {
		strategy = StrategyNone
	}
	return TokenBudgetConfig{
		StrategyType:     strategy,
		MaxTokens:        c.MaxTokens,
		ReserveRatio:     c.ReserveRatio,
		SummaryThreshold: c.SummaryThreshold,
	}
}

// TokenBudgetConfig configures a budget strategy.
type TokenBudgetConfig struct {
	StrategyType StrategyType `json:"strategyType"`
	MaxTokens    int          `json:"maxTokens"`
	// ReserveRatio is the fraction of MaxTokens held back as headroom.
	ReserveRatio float64 `json:"reserveRatio"`
	// SummaryThreshold is the turn count above which summarization triggers.
	SummaryThreshold int `json:"summaryThreshold"`
}
