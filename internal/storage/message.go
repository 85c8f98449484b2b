package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/easeaico/agent-chat/internal/types"
)

type messageModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	SessionID      string `gorm:"index:idx_messages_session_active,priority:1;size:64"`
	Role           string `gorm:"size:16"`
	Content        string
	MessageType    string `gorm:"size:16"`
	FileURLs       datatypes.JSONSlice[string]
	TokenCount     int
	BodyTokenCount int
	Model          string
	Metadata       string
	IsActive       bool      `gorm:"index:idx_messages_session_active,priority:2"`
	CreatedAt      time.Time `gorm:"index"`
}

func (messageModel) TableName() string {
	return "chat_messages"
}

// MessageRepo accesses conversation turns. Turns are never deleted.
type MessageRepo struct {
	db *gorm.DB
}

func NewMessageRepo(db *gorm.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Create(ctx context.Context, msg *types.Message) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	record := messageToModel(msg)
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	msg.CreatedAt = record.CreatedAt
	return nil
}

// UpdateTokens back-fills the content and token counts of a persisted turn.
func (r *MessageRepo) UpdateTokens(ctx context.Context, msg *types.Message) error {
	if err := r.db.WithContext(ctx).
		Model(&messageModel{}).
		Where("id = ?", msg.ID).
		Updates(map[string]any{
			"content":          msg.Content,
			"token_count":      msg.TokenCount,
			"body_token_count": msg.BodyTokenCount,
		}).Error; err != nil {
		return fmt.Errorf("failed to update message tokens: %w", err)
	}
	return nil
}

// ListActive returns the visible history of a session, oldest first.
func (r *MessageRepo) ListActive(ctx context.Context, sessionID string) ([]types.Message, error) {
	var records []messageModel
	if err := r.db.WithContext(ctx).
		Where("session_id = ? AND is_active = ?", sessionID, true).
		Order("created_at ASC").
		Order("id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	results := make([]types.Message, 0, len(records))
	for _, record := range records {
		results = append(results, messageFromModel(record))
	}
	return results, nil
}

// CountBySession counts every turn of a session, active or not.
func (r *MessageRepo) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&messageModel{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return int(count), nil
}

// Deactivate marks turns inactive so they leave the visible history.
func (r *MessageRepo) Deactivate(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).
		Model(&messageModel{}).
		Where("id IN ?", ids).
		Update("is_active", false).Error; err != nil {
		return fmt.Errorf("failed to deactivate messages: %w", err)
	}
	return nil
}

func messageToModel(msg *types.Message) messageModel {
	return messageModel{
		ID:             msg.ID,
		SessionID:      msg.SessionID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		MessageType:    string(msg.MessageType),
		FileURLs:       datatypes.JSONSlice[string](msg.FileURLs),
		TokenCount:     msg.TokenCount,
		BodyTokenCount: msg.BodyTokenCount,
		Model:          msg.Model,
		Metadata:       msg.Metadata,
		IsActive:       msg.IsActive,
		CreatedAt:      msg.CreatedAt,
	}
}

func messageFromModel(model messageModel) types.Message {
	return types.Message{
		ID:             model.ID,
		SessionID:      model.SessionID,
		Role:           types.Role(model.Role),
		Content:        model.Content,
		MessageType:    types.MessageType(model.MessageType),
		FileURLs:       []string(model.FileURLs),
		TokenCount:     model.TokenCount,
		BodyTokenCount: model.BodyTokenCount,
		Model:          model.Model,
		Metadata:       model.Metadata,
		IsActive:       model.IsActive,
		CreatedAt:      model.CreatedAt,
	}
}
