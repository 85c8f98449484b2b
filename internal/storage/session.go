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

type sessionModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Title     string
	AgentID   string `gorm:"index;size:64"`
	Metadata  datatypes.JSONType[map[string]string]
	CreatedAt time.Time `gorm:"index"`
}

func (sessionModel) TableName() string {
	return "chat_sessions"
}

// SessionRepo accesses chat sessions.
type SessionRepo struct {
	db *gorm.DB
}

func NewSessionRepo(db *gorm.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

func (r *SessionRepo) Create(ctx context.Context, session *types.Session) error {
	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}
	record := sessionModel{
		ID:        session.ID,
		Title:     session.Title,
		AgentID:   session.AgentID,
		Metadata:  datatypes.NewJSONType(session.Metadata),
		CreatedAt: session.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	session.CreatedAt = record.CreatedAt
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*types.Session, error) {
	var record sessionModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	session := sessionFromModel(record)
	return &session, nil
}

// List returns every session, newest first.
func (r *SessionRepo) List(ctx context.Context) ([]types.Session, error) {
	var records []sessionModel
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	results := make([]types.Session, 0, len(records))
	for _, record := range records {
		results = append(results, sessionFromModel(record))
	}
	return results, nil
}

// UpdateTitle renames a session. A missing session is reported as types.ErrNotFound.
func (r *SessionRepo) UpdateTitle(ctx context.Context, id, title string) error {
	res := r.db.WithContext(ctx).
		Model(&sessionModel{}).
		Where("id = ?", id).
		Update("title", title)
	if res.Error != nil {
		return fmt.Errorf("failed to update session title: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	return nil
}

func sessionFromModel(model sessionModel) types.Session {
	return types.Session{
		ID:        model.ID,
		Title:     model.Title,
		AgentID:   model.AgentID,
		Metadata:  model.Metadata.Data(),
		CreatedAt: model.CreatedAt,
	}
}
