package models

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go/v3"
	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// buildOpenAIParams converts an ADK request to OpenAI chat completion parameters.
func buildOpenAIParams(req *model.LLMRequest, modelName string) *openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: req.Model,
	}
	if req.Model == "" {
		params.Model = modelName
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.Config != nil && req.Config.SystemInstruction != nil {
		if text := contentText(req.Config.SystemInstruction); text != "" {
			messages = append(messages, openai.SystemMessage(text))
		}
	}
	messages = append(messages, convertContentsToMessages(req.Contents)...)
	if len(messages) > 0 {
		params.Messages = messages
	}

	if req.Config != nil {
		if req.Config.Temperature != nil {
			params.Temperature = openai.Float(float64(*req.Config.Temperature))
		}
		if req.Config.MaxOutputTokens > 0 {
			params.MaxTokens = openai.Int(int64(req.Config.MaxOutputTokens))
		}
		if req.Config.TopP != nil {
			params.TopP = openai.Float(float64(*req.Config.TopP))
		}

		// 将 LLMRequest 中的 Tools 转换为 OpenAI 的 function 工具
		if len(req.Config.Tools) > 0 {
			tools := convertToolsToOpenAI(req.Config.Tools)
			if len(tools) > 0 {
				params.Tools = tools
			}
		}
	}

	return &params
}

// convertToolsToOpenAI converts LLMRequest.Config.Tools to OpenAI tools format
func convertToolsToOpenAI(toolsMap []*genai.Tool) []openai.ChatCompletionToolUnionParam {
	var tools []openai.ChatCompletionToolUnionParam

	for _, t := range toolsMap {
		if t == nil {
			continue
		}
		for _, fn := range t.FunctionDeclarations {
			tool := openai.ChatCompletionToolUnionParam{
				OfFunction: &openai.ChatCompletionFunctionToolParam{
					Function: openai.FunctionDefinitionParam{
						Name:        fn.Name,
						Description: openai.String(fn.Description),
						Parameters:  openai.FunctionParameters(functionParameters(fn)),
					},
				},
			}
			tools = append(tools, tool)
		}
	}

	return tools
}

// functionParameters returns the JSON schema of a declaration's parameters as a plain map.
func functionParameters(fn *genai.FunctionDeclaration) map[string]any {
	if fn.ParametersJsonSchema != nil {
		if schema, ok := fn.ParametersJsonSchema.(*jsonschema.Schema); ok {
			return convertSchemaToJSONSchema(schema)
		}
		if schemaMap, ok := fn.ParametersJsonSchema.(map[string]any); ok {
			return schemaMap
		}
	}
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// convertSchemaToJSONSchema converts jsonschema.Schema to JSON Schema format
func convertSchemaToJSONSchema(schema *jsonschema.Schema) map[string]any {
	result := make(map[string]any)

	if schema.Type != "" {
		result["type"] = schema.Type
	} else {
		result["type"] = "object"
	}

	properties := make(map[string]any)
	for name, propSchema := range schema.Properties {
		if propSchema != nil {
			properties[name] = convertSchemaProperty(propSchema)
		}
	}
	result["properties"] = properties

	if len(schema.Required) > 0 {
		result["required"] = schema.Required
	} else {
		result["required"] = []string{}
	}

	return result
}

// convertSchemaProperty converts a single jsonschema.Schema property to JSON Schema format
func convertSchemaProperty(schema *jsonschema.Schema) map[string]any {
	if schema == nil {
		return nil
	}

	prop := make(map[string]any)

	// Multiple types: providers only accept one.
	if len(schema.Types) > 0 {
		prop["type"] = schema.Types[0]
	} else if schema.Type != "" {
		prop["type"] = schema.Type
	}
	if schema.Description != "" {
		prop["description"] = schema.Description
	}
	if schema.Format != "" {
		prop["format"] = schema.Format
	}
	if len(schema.Enum) > 0 {
		prop["enum"] = schema.Enum
	}
	if len(schema.Default) > 0 {
		var defaultVal any
		if err := json.Unmarshal(schema.Default, &defaultVal); err == nil {
			prop["default"] = defaultVal
		}
	}
	if schema.Minimum != nil {
		prop["minimum"] = *schema.Minimum
	}
	if schema.Maximum != nil {
		prop["maximum"] = *schema.Maximum
	}
	if schema.MaxLength != nil {
		prop["maxLength"] = *schema.MaxLength
	}
	if schema.Items != nil {
		prop["items"] = convertSchemaProperty(schema.Items)
	}
	if len(schema.Properties) > 0 {
		properties := make(map[string]any)
		for name, propSchema := range schema.Properties {
			if propSchema != nil {
				properties[name] = convertSchemaProperty(propSchema)
			}
		}
		prop["properties"] = properties
	}
	if len(schema.Required) > 0 {
		prop["required"] = schema.Required
	}

	return prop
}

// convertContentsToMessages converts genai.Content to OpenAI messages
func convertContentsToMessages(contents []*genai.Content) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion

	for _, content := range contents {
		if content == nil {
			continue
		}

		// Function responses become tool messages.
		if responses := functionResponses(content); len(responses) > 0 {
			for _, resp := range responses {
				payload, err := json.Marshal(resp.Response)
				if err != nil {
					slog.Error("failed to marshal function response", "error", err.Error())
					continue
				}
				messages = append(messages, openai.ToolMessage(string(payload), resp.ID))
			}
			continue
		}

		switch content.Role {
		case genai.RoleModel, "assistant":
			messages = append(messages, assistantMessage(content))
		case "system":
			messages = append(messages, openai.SystemMessage(contentText(content)))
		default:
			messages = append(messages, userMessage(content))
		}
	}

	return messages
}

// userMessage keeps file parts as image parts, ahead of the text, in their original order.
func userMessage(content *genai.Content) openai.ChatCompletionMessageParamUnion {
	var parts []openai.ChatCompletionContentPartUnionParam
	hasFile := false
	for _, part := range content.Parts {
		if part == nil {
			continue
		}
		switch {
		case part.FileData != nil && part.FileData.FileURI != "":
			hasFile = true
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: part.FileData.FileURI,
			}))
		case part.Text != "":
			parts = append(parts, openai.TextContentPart(part.Text))
		}
	}
	if !hasFile {
		return openai.UserMessage(contentText(content))
	}
	return openai.UserMessage(parts)
}

func assistantMessage(content *genai.Content) openai.ChatCompletionMessageParamUnion {
	assistant := openai.ChatCompletionAssistantMessageParam{}
	if text := contentText(content); text != "" {
		assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(text),
		}
	}

	for _, part := range content.Parts {
		if part == nil || part.FunctionCall == nil {
			continue
		}
		args, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			slog.Error("failed to marshal function call args", "error", err.Error(), "tool", part.FunctionCall.Name)
			args = []byte("{}")
		}
		assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: part.FunctionCall.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			},
		})
	}

	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func functionResponses(content *genai.Content) []*genai.FunctionResponse {
	var responses []*genai.FunctionResponse
	for _, part := range content.Parts {
		if part != nil && part.FunctionResponse != nil && part.FunctionResponse.ID != "" {
			responses = append(responses, part.FunctionResponse)
		}
	}
	return responses
}

func contentText(content *genai.Content) string {
	var sb strings.Builder
	for _, part := range content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
