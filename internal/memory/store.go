// Package memory 实现长期记忆的去重写入与相关性召回。
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/easeaico/agent-chat/internal/types"
)

const (
	// DefaultMinScore 是向量检索的最低相似度，用来过滤无关召回。
	DefaultMinScore = 0.3
	// DefaultTopK 是每轮对话默认召回的记忆条数。
	DefaultTopK = 5

	maxTopK          = 16
	candidateFactor  = 3
	similarityWeight = 0.7
	importanceWeight = 0.3
)

// ItemRepo 持久化记忆条目。按 session 与去重哈希建立索引查询。
type ItemRepo interface {
	// FindActiveByHash 在没有匹配条目时返回 nil, nil。
	FindActiveByHash(ctx context.Context, sessionID, hash string) (*types.MemoryItem, error)
	Create(ctx context.Context, item *types.MemoryItem) error
	Update(ctx context.Context, item *types.MemoryItem) error
	GetByIDs(ctx context.Context, ids []string) ([]types.MemoryItem, error)
}

// VectorEntry 是写入向量索引的一条记录及其元数据。
type VectorEntry struct {
	ItemID     string
	SessionID  string
	MemoryType types.MemoryType
	// Tags 以逗号拼接。
	Tags      string
	Status    int
	Embedding []float32
}

// VectorQuery 描述一次带 session 过滤的相似度检索。
type VectorQuery struct {
	SessionID string
	Embedding []float32
	Limit     int
	MinScore  float64
}

// VectorMatch 是一次命中，Score 为余弦相似度。
type VectorMatch struct {
	ItemID string
	Score  float64
}

// VectorIndex 是向量检索能力。
type VectorIndex interface {
	Upsert(ctx context.Context, entry VectorEntry) error
	Search(ctx context.Context, query VectorQuery) ([]VectorMatch, error)
}

// Store 组合条目仓库、向量索引与按 session 解析的 Embedder。
type Store struct {
	items     ItemRepo
	index     VectorIndex
	embedders EmbedderResolver
	minScore  float64
	locks     keyedMutex
}

func NewStore(items ItemRepo, index VectorIndex, embedders EmbedderResolver, minScore float64) *Store {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &Store{
		items:     items,
		index:     index,
		embedders: embedders,
		minScore:  minScore,
	}
}

// SaveMemories 写入候选记忆。相同 session 下归一化文本相同的候选合并为一条。
// 任何嵌入、索引或持久化失败都会中止整个保存并返回错误。
func (s *Store) SaveMemories(ctx context.Context, sessionID string, candidates []*types.CandidateMemory) ([]string, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required: %w", types.ErrInvalidRequest)
	}

	var embedder Embedder
	ids := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate == nil || strings.TrimSpace(candidate.Text) == "" {
			continue
		}
		if embedder == nil {
			var err error
			embedder, err = s.embedders.EmbedderFor(ctx, sessionID)
			if err != nil {
				return ids, err
			}
		}

		item, err := s.upsertItem(ctx, sessionID, candidate)
		if err != nil {
			return ids, err
		}

		vector, err := embedder.EmbedDocument(ctx, item.Text)
		if err != nil {
			return ids, fmt.Errorf("failed to embed memory %s: %w", item.ID, err)
		}
		if len(vector) == 0 {
			return ids, fmt.Errorf("failed to embed memory %s: empty embedding", item.ID)
		}

		entry := VectorEntry{
			ItemID:     item.ID,
			SessionID:  item.SessionID,
			MemoryType: item.Type,
			Tags:       strings.Join(item.Tags, ","),
			Status:     item.Status,
			Embedding:  vector,
		}
		if err := s.index.Upsert(ctx, entry); err != nil {
			return ids, fmt.Errorf("failed to index memory %s: %w", item.ID, err)
		}
		ids = append(ids, item.ID)
	}
	return ids, nil
}

// upsertItem 在同一 session+哈希 上串行执行。跨进程的并发插入由唯一索引兜底：
// 插入冲突时重新读取已有条目并合并。
func (s *Store) upsertItem(ctx context.Context, sessionID string, candidate *types.CandidateMemory) (*types.MemoryItem, error) {
	text := Normalize(candidate.Text)
	hash := DedupeHash(text)

	unlock := s.locks.Lock(sessionID + "/" + hash)
	defer unlock()

	item, err := s.insertOrMerge(ctx, sessionID, hash, text, candidate)
	if errors.Is(err, types.ErrDuplicate) {
		item, err = s.insertOrMerge(ctx, sessionID, hash, text, candidate)
	}
	return item, err
}

func (s *Store) insertOrMerge(ctx context.Context, sessionID, hash, text string, candidate *types.CandidateMemory) (*types.MemoryItem, error) {
	existing, err := s.items.FindActiveByHash(ctx, sessionID, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to look up memory: %w", err)
	}

	if existing == nil {
		memType := candidate.Type
		if memType == "" {
			memType = types.MemoryTypeFact
		}
		importance := clampImportance(candidate.Importance)
		now := time.Now()
		item := &types.MemoryItem{
			ID:              uuid.NewString(),
			SessionID:       sessionID,
			SourceSessionID: sessionID,
			Type:            types.ParseMemoryType(string(memType)),
			Text:            text,
			Data:            copyData(candidate.Data),
			Importance:      &importance,
			Tags:            mergeTags(nil, candidate.Tags),
			DedupeHash:      hash,
			Status:          types.MemoryStatusActive,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.items.Create(ctx, item); err != nil {
			return nil, fmt.Errorf("failed to create memory: %w", err)
		}
		return item, nil
	}

	merged := mergeItem(*existing, candidate, text)
	if err := s.items.Update(ctx, &merged); err != nil {
		return nil, fmt.Errorf("failed to update memory: %w", err)
	}
	return &merged, nil
}

// SearchRelevant 召回与 query 相关的记忆，按加权分数降序返回至多 topK 条。
// 召回失败只记录日志并返回空结果，不能影响对话。
func (s *Store) SearchRelevant(ctx context.Context, sessionID, query string, topK int) []types.MemoryResult {
	results, err := s.search(ctx, sessionID, query, topK)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, types.ErrEmbeddingNotConfigured) {
			level = slog.LevelDebug
		}
		slog.Log(ctx, level, "memory recall failed", "session_id", sessionID, "error", err.Error())
		return nil
	}
	return results
}

func (s *Store) search(ctx context.Context, sessionID, query string, topK int) ([]types.MemoryResult, error) {
	topK = ClampTopK(topK)
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	embedder, err := s.embedders.EmbedderFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	vector, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vector) == 0 {
		return nil, nil
	}

	matches, err := s.index.Search(ctx, VectorQuery{
		SessionID: sessionID,
		Embedding: vector,
		Limit:     topK * candidateFactor,
		MinScore:  s.minScore,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search memory index: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ItemID)
	}
	items, err := s.items.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve memory items: %w", err)
	}
	byID := make(map[string]types.MemoryItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	results := make([]types.MemoryResult, 0, len(matches))
	for _, m := range matches {
		item, ok := byID[m.ItemID]
		if !ok || item.Status != types.MemoryStatusActive {
			continue
		}
		results = append(results, types.MemoryResult{
			ItemID:     item.ID,
			Type:       item.Type,
			Text:       item.Text,
			Importance: item.Importance,
			Tags:       item.Tags,
			Score:      WeightedScore(m.Score, item.Importance),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// ClampTopK 把 topK 限制在 [1,16]。
func ClampTopK(topK int) int {
	if topK < 1 {
		return 1
	}
	if topK > maxTopK {
		return maxTopK
	}
	return topK
}

// WeightedScore = 0.7 × similarity + 0.3 × importance，importance 缺省为 0.5。
func WeightedScore(similarity float64, importance *float64) float64 {
	imp := defaultImportance
	if importance != nil {
		imp = *importance
	}
	return similarityWeight*similarity + importanceWeight*imp
}

// keyedMutex 按 key 加锁，空闲的 key 会被回收。
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
