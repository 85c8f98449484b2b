package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"

	"github.com/easeaico/agent-chat/internal/types"
)

const (
	recallMemoryToolName        = "recall_memory"
	recallMemoryToolDescription = "Searches the user's long-term memory for facts, preferences and events relevant to a query."
)

// MemorySearcher is the read side of long-term memory.
type MemorySearcher interface {
	SearchRelevant(ctx context.Context, sessionID, query string, topK int) []types.MemoryResult
}

// RecallMemoryTool lets the model search long-term memory on demand, in addition to the memory
// section already placed in the system prompt.
type RecallMemoryTool struct {
	name        string
	description string
	searcher    MemorySearcher
	maxEntries  int
}

func NewRecallMemoryTool(searcher MemorySearcher, maxEntries int) *RecallMemoryTool {
	if maxEntries <= 0 {
		maxEntries = 5
	}
	return &RecallMemoryTool{
		name:        recallMemoryToolName,
		description: recallMemoryToolDescription,
		searcher:    searcher,
		maxEntries:  maxEntries,
	}
}

func (t *RecallMemoryTool) Name() string {
	return t.name
}

func (t *RecallMemoryTool) Description() string {
	return t.description
}

func (t *RecallMemoryTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        t.name,
		Description: t.description,
		ParametersJsonSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {
					Type:        "string",
					Description: "What to look for, in the user's language.",
				},
				"limit": {
					Type:        "integer",
					Description: fmt.Sprintf("Maximum number of memories to return, at most %d.", t.maxEntries),
				},
			},
			Required: []string{"query"},
		},
	}
}

// Run searches the memory of the session carried by ctx.
func (t *RecallMemoryTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	sessionID := SessionIDFrom(ctx)
	if sessionID == "" {
		return nil, fmt.Errorf("session id missing from context")
	}
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	limit := t.maxEntries
	// JSON numbers decode as float64.
	if v, ok := args["limit"].(float64); ok && int(v) > 0 && int(v) < limit {
		limit = int(v)
	}

	results := t.searcher.SearchRelevant(ctx, sessionID, query, limit)
	memories := make([]map[string]any, 0, len(results))
	for _, r := range results {
		memories = append(memories, map[string]any{
			"type":  string(r.Type),
			"text":  r.Text,
			"score": r.Score,
		})
	}
	return map[string]any{"memories": memories}, nil
}
