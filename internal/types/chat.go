package types

import "time"

// ChatRequest is the inbound chat call.
type ChatRequest struct {
	Message   string   `json:"message"`
	SessionID string   `json:"sessionId"`
	FileURLs  []string `json:"fileUrls,omitempty"`
}

// NewSessionRequest carries the agent settings for a new session.
type NewSessionRequest struct {
	WelcomeMessage       string       `json:"welcomeMessage"`
	AgentModelConfig     *ModelConfig `json:"agentModelConfig"`
	EmbeddingModelConfig *ModelConfig `json:"embeddingModelConfig"`
	SystemPrompt         string       `json:"systemPrompt"`
	MultiModal           bool         `json:"multiModal"`
	Title                string       `json:"title"`
}

// Frame is one incremental event delivered to the stream consumer.
type Frame struct {
	Content     string      `json:"content"`
	Done        bool        `json:"done"`
	MessageType MessageType `json:"messageType"`
	TaskID      string      `json:"taskId,omitempty"`
	Payload     string      `json:"payload,omitempty"`
	Timestamp   int64       `json:"timestamp"`
}

// NewFrame returns a non-terminal frame.
func NewFrame(content string, messageType MessageType) Frame {
	return Frame{Content: content, MessageType: messageType, Timestamp: time.Now().UnixMilli()}
}

// NewDoneFrame returns a frame that ends one logical message.
func NewDoneFrame(content string, messageType MessageType) Frame {
	return Frame{Content: content, Done: true, MessageType: messageType, Timestamp: time.Now().UnixMilli()}
}

// InterruptResult reports what an interrupt request achieved.
type InterruptResult string

const (
	// InterruptNotLive means no stream of the session is live here and nothing was forwarded.
	InterruptNotLive InterruptResult = "NOT_LIVE"
	// InterruptApplied means the stream was live on this replica and is now closed.
	InterruptApplied InterruptResult = "INTERRUPTED"
	// InterruptForwarded means the request was published to the other replicas. Whether one of
	// them owned the stream is not known to the caller.
	InterruptForwarded InterruptResult = "FORWARDED"
)

// ExecutionPhase names the pipeline stage an error occurred in.
type ExecutionPhase string

const (
	PhaseInitialization         ExecutionPhase = "INITIALIZATION"
	PhaseEnvironmentPreparation ExecutionPhase = "ENVIRONMENT_PREPARATION"
	PhaseMemoryInitialization   ExecutionPhase = "MEMORY_INITIALIZATION"
	PhaseModelCall              ExecutionPhase = "MODEL_CALL"
	PhaseToolExecution          ExecutionPhase = "TOOL_EXECUTION"
	PhaseResultProcessing       ExecutionPhase = "RESULT_PROCESSING"
)

// ModelCallInfo describes one completed model call.
type ModelCallInfo struct {
	ModelEndpoint string        `json:"modelEndpoint"`
	InputTokens   int           `json:"inputTokens"`
	OutputTokens  int           `json:"outputTokens"`
	CallTime      time.Duration `json:"callTime"`
	Success       bool          `json:"success"`
	Error         string        `json:"error,omitempty"`
}

// ToolCallInfo describes one executed tool call.
type ToolCallInfo struct {
	ToolName     string `json:"toolName"`
	RequestArgs  string `json:"requestArgs"`
	ResponseData string `json:"responseData"`
	Success      bool   `json:"success"`
}
