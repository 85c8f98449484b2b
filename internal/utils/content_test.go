package utils

import (
	"testing"

	"google.golang.org/genai"
)

func TestExtractContentTextSkipsThoughts(t *testing.T) {
	content := &genai.Content{Role: "model", Parts: []*genai.Part{
		{Text: "thinking", Thought: true},
		{Text: "你好"},
		{FunctionCall: &genai.FunctionCall{Name: "recall_memory"}},
		{Text: "，世界"},
	}}
	if got := ExtractContentText(content); got != "你好，世界" {
		t.Fatalf("unexpected text: %q", got)
	}
	if calls := FunctionCalls(content); len(calls) != 1 || calls[0].Name != "recall_memory" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if ExtractContentText(nil) != "" {
		t.Fatalf("expected empty text for nil content")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("新的聊天标题", 4); got != "新的聊天" {
		t.Fatalf("unexpected truncation: %q", got)
	}
	if got := Truncate("abc", 10); got != "abc" {
		t.Fatalf("unexpected truncation: %q", got)
	}
}
