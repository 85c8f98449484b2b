package memory

import (
	"strings"

	"github.com/easeaico/agent-chat/internal/types"
)

// SectionTitle 是注入系统提示词的记忆段落标题。
const SectionTitle = "[记忆要点]"

// RenderSection 把召回结果渲染为带标题的列表，最多 topK 行；没有结果时返回空串。
func RenderSection(title string, results []types.MemoryResult, topK int) string {
	if len(results) == 0 || topK <= 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	count := 0
	for _, r := range results {
		if count >= topK {
			break
		}
		text := formatMemoryLine(r.Text)
		if text == "" {
			continue
		}
		b.WriteString("- [")
		b.WriteString(string(r.Type))
		b.WriteString("] ")
		b.WriteString(text)
		b.WriteString("\n")
		count++
	}
	if count == 0 {
		return ""
	}
	return b.String()
}

func formatMemoryLine(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	parts := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}
