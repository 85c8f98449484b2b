package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/easeaico/agent-chat/internal/memory"
	"github.com/easeaico/agent-chat/internal/types"
)

// memoryVectorModel maps to the memory_vectors table. One row per memory item.
type memoryVectorModel struct {
	ItemID     string `gorm:"primaryKey;size:64"`
	SessionID  string `gorm:"index;size:64"`
	MemoryType string `gorm:"size:16"`
	// Tags are comma-joined.
	Tags      string
	Status    int
	Embedding pgvector.Vector `gorm:"type:vector"`
	UpdatedAt time.Time
}

func (memoryVectorModel) TableName() string {
	return "memory_vectors"
}

// VectorIndex stores memory embeddings. On postgres it searches with pgvector cosine distance;
// on sqlite it scans the session's vectors and scores them in process.
type VectorIndex struct {
	db *gorm.DB
}

var _ memory.VectorIndex = (*VectorIndex)(nil)

func NewVectorIndex(db *gorm.DB) *VectorIndex {
	return &VectorIndex{db: db}
}

func (v *VectorIndex) Upsert(ctx context.Context, entry memory.VectorEntry) error {
	if len(entry.Embedding) == 0 {
		return fmt.Errorf("embedding cannot be empty")
	}
	record := memoryVectorModel{
		ItemID:     entry.ItemID,
		SessionID:  entry.SessionID,
		MemoryType: string(entry.MemoryType),
		Tags:       entry.Tags,
		Status:     entry.Status,
		Embedding:  pgvector.NewVector(entry.Embedding),
		UpdatedAt:  time.Now(),
	}
	if err := v.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"session_id", "memory_type", "tags", "status", "embedding", "updated_at"}),
		}).
		Create(&record).Error; err != nil {
		return fmt.Errorf("failed to upsert memory vector: %w", err)
	}
	return nil
}

func (v *VectorIndex) Search(ctx context.Context, query memory.VectorQuery) ([]memory.VectorMatch, error) {
	if len(query.Embedding) == 0 || query.Limit <= 0 {
		return nil, nil
	}
	if v.db.Dialector.Name() == "postgres" {
		return v.searchPostgres(ctx, query)
	}
	return v.searchScan(ctx, query)
}

func (v *VectorIndex) searchPostgres(ctx context.Context, query memory.VectorQuery) ([]memory.VectorMatch, error) {
	vector := pgvector.NewVector(query.Embedding)
	sql := `
		SELECT item_id, 1 - (embedding <=> ?) AS score
		FROM memory_vectors
		WHERE session_id = ? AND status = ? AND 1 - (embedding <=> ?) >= ?
		ORDER BY embedding <=> ?
		LIMIT ?`

	var rows []struct {
		ItemID string
		Score  float64
	}
	if err := v.db.WithContext(ctx).
		Raw(sql, vector, query.SessionID, types.MemoryStatusActive, vector, query.MinScore, vector, query.Limit).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to search memory vectors: %w", err)
	}

	matches := make([]memory.VectorMatch, 0, len(rows))
	for _, row := range rows {
		matches = append(matches, memory.VectorMatch{ItemID: row.ItemID, Score: row.Score})
	}
	return matches, nil
}

func (v *VectorIndex) searchScan(ctx context.Context, query memory.VectorQuery) ([]memory.VectorMatch, error) {
	var records []memoryVectorModel
	if err := v.db.WithContext(ctx).
		Where("session_id = ? AND status = ?", query.SessionID, types.MemoryStatusActive).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load memory vectors: %w", err)
	}

	matches := make([]memory.VectorMatch, 0, len(records))
	for _, record := range records {
		score := cosine(query.Embedding, record.Embedding.Slice())
		if score < query.MinScore {
			continue
		}
		matches = append(matches, memory.VectorMatch{ItemID: record.ItemID, Score: score})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > query.Limit {
		matches = matches[:query.Limit]
	}
	return matches, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
