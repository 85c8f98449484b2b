package prompt

import "text/template"

// NamingPrompt asks the model for a short session title based on the first user message.
const NamingPrompt = `你是会话命名助手。请根据用户的第一条消息，为这次对话生成一个简短的标题：
1. 不超过 15 个字。
2. 只输出标题本身，不要加引号、标点或任何解释。`

// SummaryPrompt condenses older turns into one summary.
const SummaryPrompt = `你是对话摘要助手。请把下面的历史对话压缩成一段摘要，供后续对话继续使用：
1. 保留用户的目标、已确认的事实、偏好和尚未完成的事项。
2. 保留助手已经给出的关键结论。
3. 使用第三人称，语言简洁，不要编造对话中没有的信息。
4. 只输出摘要正文。`

// ExtractionPrompt turns one user message into memory candidates.
const ExtractionPrompt = `你是长期记忆提取器。从用户消息中提取值得长期记住的信息，以 JSON 数组返回：
[{"type": "FACT|PREFERENCE|EVENT|PROFILE|TASK", "text": "...", "importance": 0.0-1.0, "tags": ["..."]}]

规则：
1. 只提取关于用户本人的稳定信息：事实、偏好、重要事件、个人资料、待办任务。
2. 寒暄、提问本身、一次性的闲聊不要提取。
3. text 用一句完整的陈述句表达。
4. 没有可提取内容时返回 []。
5. 只输出 JSON，不要输出其他内容。`

const presetToolTemplateText = `【工具预设参数】
调用以下工具时，请直接使用这些预设参数值，不要向用户询问：
{{- range .Providers}}
{{- $provider := .Name}}
{{- range .Tools}}
- {{$provider}}/{{.Name}}:
{{- range .Params}}
  - {{.Name}} = {{.Value}}
{{- end}}
{{- end}}
{{- end}}
`

var presetToolTemplate = template.Must(template.New("preset_tools").Parse(presetToolTemplateText))
