package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/easeaico/agent-chat/internal/memory"
	"github.com/easeaico/agent-chat/internal/types"
)

type memoryItemModel struct {
	ID              string `gorm:"primaryKey;size:64"`
	SessionID       string `gorm:"uniqueIndex:idx_memory_items_active_dedupe,priority:1,where:status = 1;size:64"`
	SourceSessionID string `gorm:"size:64"`
	Type            string `gorm:"size:16"`
	Text            string
	Data            datatypes.JSONMap
	Importance      *float64
	Tags            datatypes.JSONSlice[string]
	DedupeHash      string `gorm:"uniqueIndex:idx_memory_items_active_dedupe,priority:2,where:status = 1;size:64"`
	Status          int    `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (memoryItemModel) TableName() string {
	return "memory_items"
}

// MemoryItemRepo accesses long-term memory items. Items are archived, never deleted.
type MemoryItemRepo struct {
	db *gorm.DB
}

var _ memory.ItemRepo = (*MemoryItemRepo)(nil)

func NewMemoryItemRepo(db *gorm.DB) *MemoryItemRepo {
	return &MemoryItemRepo{db: db}
}

func (r *MemoryItemRepo) FindActiveByHash(ctx context.Context, sessionID, hash string) (*types.MemoryItem, error) {
	var record memoryItemModel
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND dedupe_hash = ? AND status = ?", sessionID, hash, types.MemoryStatusActive).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query memory item: %w", err)
	}
	item := memoryItemFromModel(record)
	return &item, nil
}

// Create inserts a new item. At most one active item exists per session and dedupe hash; a
// second one fails with types.ErrDuplicate.
func (r *MemoryItemRepo) Create(ctx context.Context, item *types.MemoryItem) error {
	record := memoryItemToModel(item)
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("memory item %s: %w", item.DedupeHash, types.ErrDuplicate)
		}
		return fmt.Errorf("failed to insert memory item: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of an item. Identity and dedupe hash are left untouched.
func (r *MemoryItemRepo) Update(ctx context.Context, item *types.MemoryItem) error {
	record := memoryItemToModel(item)
	if err := r.db.WithContext(ctx).
		Model(&memoryItemModel{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"text":       record.Text,
			"data":       record.Data,
			"importance": record.Importance,
			"tags":       record.Tags,
			"status":     record.Status,
			"updated_at": time.Now(),
		}).Error; err != nil {
		return fmt.Errorf("failed to update memory item: %w", err)
	}
	return nil
}

func (r *MemoryItemRepo) GetByIDs(ctx context.Context, ids []string) ([]types.MemoryItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var records []memoryItemModel
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query memory items: %w", err)
	}
	results := make([]types.MemoryItem, 0, len(records))
	for _, record := range records {
		results = append(results, memoryItemFromModel(record))
	}
	return results, nil
}

func memoryItemToModel(item *types.MemoryItem) memoryItemModel {
	var data datatypes.JSONMap
	if len(item.Data) > 0 {
		data = datatypes.JSONMap(item.Data)
	}
	return memoryItemModel{
		ID:              item.ID,
		SessionID:       item.SessionID,
		SourceSessionID: item.SourceSessionID,
		Type:            string(item.Type),
		Text:            item.Text,
		Data:            data,
		Importance:      item.Importance,
		Tags:            datatypes.JSONSlice[string](item.Tags),
		DedupeHash:      item.DedupeHash,
		Status:          item.Status,
		CreatedAt:       item.CreatedAt,
		UpdatedAt:       item.UpdatedAt,
	}
}

func memoryItemFromModel(model memoryItemModel) types.MemoryItem {
	return types.MemoryItem{
		ID:              model.ID,
		SessionID:       model.SessionID,
		SourceSessionID: model.SourceSessionID,
		Type:            types.MemoryType(model.Type),
		Text:            model.Text,
		Data:            map[string]any(model.Data),
		Importance:      model.Importance,
		Tags:            []string(model.Tags),
		DedupeHash:      model.DedupeHash,
		Status:          model.Status,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}
}
