package types

import (
	"strings"
	"time"
)

// MemoryType classifies a long-term memory item.
type MemoryType string

const (
	MemoryTypeFact       MemoryType = "FACT"
	MemoryTypePreference MemoryType = "PREFERENCE"
	MemoryTypeEvent      MemoryType = "EVENT"
	MemoryTypeProfile    MemoryType = "PROFILE"
	MemoryTypeTask       MemoryType = "TASK"
)

// ParseMemoryType returns the matching MemoryType, falling back to FACT.
func ParseMemoryType(s string) MemoryType {
	switch t := MemoryType(strings.ToUpper(strings.TrimSpace(s))); t {
	case MemoryTypeFact, MemoryTypePreference, MemoryTypeEvent, MemoryTypeProfile, MemoryTypeTask:
		return t
	default:
		return MemoryTypeFact
	}
}

const (
	MemoryStatusArchived = 0
	MemoryStatusActive   = 1
)

// MemoryItem is a deduplicated long-term memory record.
type MemoryItem struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"sessionId"`
	SourceSessionID string         `json:"sourceSessionId"`
	Type            MemoryType     `json:"type"`
	Text            string         `json:"text"`
	Data            map[string]any `json:"data,omitempty"`
	// Importance is in [0,1]; nil means unset.
	Importance *float64 `json:"importance,omitempty"`
	Tags       []string `json:"tags"`
	// DedupeHash fingerprints the normalized text and never changes after insert.
	DedupeHash string    `json:"dedupeHash"`
	Status     int       `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// CandidateMemory is an extractor output waiting to be saved.
type CandidateMemory struct {
	Type       MemoryType     `json:"type"`
	Text       string         `json:"text"`
	Importance *float64       `json:"importance,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// MemoryResult is a recalled item with its weighted score.
type MemoryResult struct {
	ItemID     string     `json:"itemId"`
	Type       MemoryType `json:"type"`
	Text       string     `json:"text"`
	Importance *float64   `json:"importance,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Score      float64    `json:"score"`
}
