// Package prompt assembles system prompts and holds the auxiliary prompts used for naming,
// summarizing and memory extraction.
package prompt

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/easeaico/agent-chat/internal/types"
)

type presetParam struct {
	Name  string
	Value string
}

type presetTool struct {
	Name   string
	Params []presetParam
}

type presetProvider struct {
	Name  string
	Tools []presetTool
}

// PresetToolBlock renders tool preset parameters (provider -> tool -> param -> value) as a prompt
// block. Entries are sorted so the prompt is stable across requests.
func PresetToolBlock(params map[string]map[string]map[string]string) (string, error) {
	providers := make([]presetProvider, 0, len(params))
	for _, providerName := range sortedKeys(params) {
		tools := params[providerName]
		provider := presetProvider{Name: providerName}
		for _, toolName := range sortedKeys(tools) {
			values := tools[toolName]
			if len(values) == 0 {
				continue
			}
			tool := presetTool{Name: toolName}
			for _, name := range sortedKeys(values) {
				tool.Params = append(tool.Params, presetParam{Name: name, Value: values[name]})
			}
			provider.Tools = append(provider.Tools, tool)
		}
		if len(provider.Tools) > 0 {
			providers = append(providers, provider)
		}
	}
	if len(providers) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	if err := presetToolTemplate.Execute(&buf, struct{ Providers []presetProvider }{providers}); err != nil {
		return "", fmt.Errorf("failed to render preset tool prompt: %w", err)
	}
	return buf.String(), nil
}

// SystemPrompt joins the agent base prompt, the preset tool block and the memory section.
// The memory section and its separator are left out when empty.
func SystemPrompt(base, presetBlock, memorySection string) string {
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n")
	b.WriteString(presetBlock)
	if memorySection != "" {
		b.WriteString("\n")
		b.WriteString(memorySection)
	}
	return b.String()
}

// Transcript renders turns as "role: content" lines for summarization. Tool notices are skipped.
func Transcript(turns []types.Message) string {
	var b strings.Builder
	for _, turn := range turns {
		content := strings.TrimSpace(turn.Content)
		if content == "" || turn.MessageType == types.MessageTypeToolCall {
			continue
		}
		b.WriteString(string(turn.Role))
		b.WriteString(": ")
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
