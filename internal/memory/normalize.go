package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/easeaico/agent-chat/internal/types"
)

const defaultImportance = 0.5

// Normalize 折叠空白与换行、去掉首尾空白并转小写。
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// DedupeHash 只依赖归一化后的文本。
func DedupeHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func clampImportance(importance *float64) float64 {
	if importance == nil {
		return defaultImportance
	}
	v := *importance
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// mergeTags 求并集，保留首次出现的顺序。
func mergeTags(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, list := range [][]string{existing, incoming} {
		for _, tag := range list {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}

func copyData(data map[string]any) map[string]any {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// mergeItem 合并候选到已有条目：重要度取最大值，标签求并集，payload 浅合并（新值覆盖），
// 文本取更长的一方。ID 与去重哈希保持不变。
func mergeItem(existing types.MemoryItem, candidate *types.CandidateMemory, normalized string) types.MemoryItem {
	merged := existing

	imp := clampImportance(existing.Importance)
	if candidate.Importance != nil {
		if c := clampImportance(candidate.Importance); c > imp {
			imp = c
		}
	}
	merged.Importance = &imp

	merged.Tags = mergeTags(existing.Tags, candidate.Tags)

	data := copyData(existing.Data)
	if len(candidate.Data) > 0 {
		if data == nil {
			data = make(map[string]any, len(candidate.Data))
		}
		for k, v := range candidate.Data {
			data[k] = v
		}
	}
	merged.Data = data

	if len([]rune(normalized)) > len([]rune(existing.Text)) {
		merged.Text = normalized
	}
	merged.UpdatedAt = time.Now()
	return merged
}
