package tool

import (
	"context"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/easeaico/agent-chat/internal/types"
)

type mockSearcher struct {
	sessionID string
	query     string
	topK      int
	results   []types.MemoryResult
}

var _ MemorySearcher = (*mockSearcher)(nil)

func (m *mockSearcher) SearchRelevant(_ context.Context, sessionID, query string, topK int) []types.MemoryResult {
	m.sessionID = sessionID
	m.query = query
	m.topK = topK
	return m.results
}

func TestRecallMemoryToolRun(t *testing.T) {
	searcher := &mockSearcher{results: []types.MemoryResult{
		{ItemID: "m1", Type: types.MemoryTypePreference, Text: "喜欢咖啡", Score: 0.9},
	}}
	recall := NewRecallMemoryTool(searcher, 5)

	ctx := WithSessionID(context.Background(), "session-1")
	out, err := recall.Run(ctx, map[string]any{"query": " 饮料 ", "limit": float64(2)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if searcher.sessionID != "session-1" || searcher.query != "饮料" || searcher.topK != 2 {
		t.Fatalf("unexpected search call: %+v", searcher)
	}
	memories, ok := out["memories"].([]map[string]any)
	if !ok || len(memories) != 1 || memories[0]["text"] != "喜欢咖啡" {
		t.Fatalf("unexpected output: %+v", out)
	}

	if _, err := recall.Run(ctx, map[string]any{"limit": float64(50)}); err == nil {
		t.Fatalf("expected error for missing query")
	}
	if _, err := recall.Run(context.Background(), map[string]any{"query": "x"}); err == nil {
		t.Fatalf("expected error without session in context")
	}

	if _, err := recall.Run(ctx, map[string]any{"query": "x", "limit": float64(50)}); err != nil || searcher.topK != 5 {
		t.Fatalf("expected limit capped at 5, got %d err=%v", searcher.topK, err)
	}
}

func TestProviderDeclarationsAndCall(t *testing.T) {
	var empty *Provider
	if empty.Declarations() != nil || empty.Len() != 0 {
		t.Fatalf("expected nil provider to be empty")
	}

	searcher := &mockSearcher{}
	p := NewProvider(nil, NewRecallMemoryTool(searcher, 3), NewRecallMemoryTool(searcher, 4))
	if p.Len() != 1 {
		t.Fatalf("expected duplicate names to collapse, got %d", p.Len())
	}
	decls := p.Declarations()
	if len(decls) != 1 || len(decls[0].FunctionDeclarations) != 1 {
		t.Fatalf("unexpected declarations: %+v", decls)
	}
	schema, ok := decls[0].FunctionDeclarations[0].ParametersJsonSchema.(*jsonschema.Schema)
	if !ok || schema.Required[0] != "query" {
		t.Fatalf("expected jsonschema parameters, got %+v", decls[0].FunctionDeclarations[0].ParametersJsonSchema)
	}

	if _, err := p.Call(context.Background(), "nope", nil); err == nil {
		t.Fatalf("expected unknown tool error")
	}
	ctx := WithSessionID(context.Background(), "s")
	if _, err := p.Call(ctx, recallMemoryToolName, map[string]any{"query": "q"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if searcher.topK != 4 {
		t.Fatalf("expected the later registration to win, got topK %d", searcher.topK)
	}
}
