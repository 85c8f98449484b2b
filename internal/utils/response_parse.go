package utils

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CleanJSONResponse strips markdown code fences from a model reply.
func CleanJSONResponse(raw string) string {
	clean := strings.TrimSpace(raw)
	if strings.HasPrefix(clean, "```json") {
		clean = strings.TrimPrefix(clean, "```json")
	} else if strings.HasPrefix(clean, "```") {
		clean = strings.TrimPrefix(clean, "```")
	}
	clean = strings.TrimSuffix(strings.TrimSpace(clean), "```")
	return strings.TrimSpace(clean)
}

// ParseJSONArray decodes the outermost JSON array found in a model reply into out.
func ParseJSONArray(raw string, out any) error {
	clean := CleanJSONResponse(raw)
	start := strings.Index(clean, "[")
	end := strings.LastIndex(clean, "]")
	if start < 0 || end <= start {
		return fmt.Errorf("no json array in response")
	}
	if err := json.Unmarshal([]byte(clean[start:end+1]), out); err != nil {
		return fmt.Errorf("failed to parse json array: %w", err)
	}
	return nil
}

// ParseJSONObject decodes the outermost JSON object found in a model reply into out.
func ParseJSONObject(raw string, out any) error {
	clean := CleanJSONResponse(raw)
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start >= 0 && end > start {
		clean = clean[start : end+1]
	}
	if err := json.Unmarshal([]byte(clean), out); err != nil {
		return fmt.Errorf("failed to parse json object: %w", err)
	}
	return nil
}
