package prompt

import (
	"strings"
	"testing"

	"github.com/easeaico/agent-chat/internal/types"
)

func TestPresetToolBlockIsSorted(t *testing.T) {
	block, err := PresetToolBlock(map[string]map[string]map[string]string{
		"weather": {"forecast": {"unit": "celsius", "city": "杭州"}},
		"amap":    {"route": {"mode": "walking"}, "empty": {}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	amap := strings.Index(block, "amap/route")
	weather := strings.Index(block, "weather/forecast")
	if amap < 0 || weather < 0 || amap > weather {
		t.Fatalf("expected providers in sorted order: %q", block)
	}
	if strings.Index(block, "city = 杭州") > strings.Index(block, "unit = celsius") {
		t.Fatalf("expected params in sorted order: %q", block)
	}
	if strings.Contains(block, "amap/empty") {
		t.Fatalf("tools without params must be skipped: %q", block)
	}
}

func TestPresetToolBlockEmpty(t *testing.T) {
	block, err := PresetToolBlock(nil)
	if err != nil || block != "" {
		t.Fatalf("expected empty block, got %q err=%v", block, err)
	}
}

func TestSystemPrompt(t *testing.T) {
	if got := SystemPrompt("base", "", ""); got != "base\n" {
		t.Fatalf("unexpected prompt without memory: %q", got)
	}
	got := SystemPrompt("base", "tools", "[记忆要点]\n- [FACT] x\n")
	if got != "base\ntools\n[记忆要点]\n- [FACT] x\n" {
		t.Fatalf("unexpected prompt with memory: %q", got)
	}
}

func TestTranscriptSkipsToolNotices(t *testing.T) {
	got := Transcript([]types.Message{
		{Role: types.RoleUser, Content: "我想去杭州", MessageType: types.MessageTypeText},
		{Role: types.RoleAssistant, Content: "执行工具：recall_memory", MessageType: types.MessageTypeToolCall},
		{Role: types.RoleAssistant, Content: " 好的 ", MessageType: types.MessageTypeText},
	})
	if got != "user: 我想去杭州\nassistant: 好的\n" {
		t.Fatalf("unexpected transcript: %q", got)
	}
}
