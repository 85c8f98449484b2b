package types

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	// RoleSummary marks a synthetic turn that condenses older history.
	RoleSummary Role = "summary"
)

// MessageType distinguishes plain text turns from tool notices.
type MessageType string

const (
	MessageTypeText     MessageType = "TEXT"
	MessageTypeToolCall MessageType = "TOOL_CALL"
)

// Message is one persisted conversation turn.
type Message struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"sessionId"`
	Role        Role        `json:"role"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
	FileURLs    []string    `json:"fileUrls"`
	// TokenCount is the provider-reported token count of the call that produced the turn.
	TokenCount int `json:"tokenCount"`
	// BodyTokenCount counts only the turn's own content, excluding carried history.
	BodyTokenCount int       `json:"bodyTokenCount"`
	Model          string    `json:"model,omitempty"`
	Metadata       string    `json:"metadata,omitempty"`
	IsActive       bool      `json:"isActive"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (m *Message) IsUser() bool      { return m.Role == RoleUser }
func (m *Message) IsAssistant() bool { return m.Role == RoleAssistant }
func (m *Message) IsSystem() bool    { return m.Role == RoleSystem }
func (m *Message) IsSummary() bool   { return m.Role == RoleSummary }
