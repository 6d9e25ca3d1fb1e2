// Package model provides ADK model adapters for LLM vendors that ADK does not
// ship natively.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	adkmodel "google.golang.org/adk/model"
	"google.golang.org/genai"
)

const defaultMaxTokens = 4096

// jsonModeInstruction is appended to the system prompt when the caller asks
// for application/json output. Claude has no native response-schema switch.
const jsonModeInstruction = "Respond with exactly one JSON object and nothing else. Do not wrap it in Markdown."

// AnthropicModel implements the adkmodel.LLM interface for Anthropic Claude.
type AnthropicModel struct {
	client    anthropic.Client
	modelName string
}

// NewAnthropicModel creates a new Anthropic model client.
func NewAnthropicModel(ctx context.Context, modelName, apiKey string, opts ...option.RequestOption) (*AnthropicModel, error) {
	if modelName == "" {
		return nil, fmt.Errorf("anthropic: model name is required")
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicModel{
		client:    anthropic.NewClient(opts...),
		modelName: modelName,
	}, nil
}

// Name returns the model name.
func (m *AnthropicModel) Name() string {
	return m.modelName
}

// GenerateContent implements the adkmodel.LLM interface. Responses are always
// produced in one piece; streaming tool calls are not reassembled.
func (m *AnthropicModel) GenerateContent(ctx context.Context, req *adkmodel.LLMRequest, stream bool) iter.Seq2[*adkmodel.LLMResponse, error] {
	return func(yield func(*adkmodel.LLMResponse, error) bool) {
		params, err := m.convertRequest(req)
		if err != nil {
			yield(nil, fmt.Errorf("failed to convert request: %w", err))
			return
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			slog.Error("anthropic API error", "model", m.modelName, "err", err)
			yield(nil, fmt.Errorf("anthropic API error: %w", err))
			return
		}
		slog.Debug("anthropic response", "blocks", len(resp.Content), "stop_reason", resp.StopReason)
		yield(convertResponse(resp), nil)
	}
}

// convertRequest converts an ADK LLMRequest to Anthropic message params.
func (m *AnthropicModel) convertRequest(req *adkmodel.LLMRequest) (anthropic.MessageNewParams, error) {
	var messages []anthropic.MessageParam
	var systemPrompts []anthropic.TextBlockParam

	if req.Config != nil && req.Config.SystemInstruction != nil {
		for _, part := range req.Config.SystemInstruction.Parts {
			if part.Text != "" {
				systemPrompts = append(systemPrompts, anthropic.TextBlockParam{Text: part.Text})
			}
		}
	}

	for _, content := range req.Contents {
		if content.Role == "system" {
			for _, part := range content.Parts {
				if part.Text != "" {
					systemPrompts = append(systemPrompts, anthropic.TextBlockParam{Text: part.Text})
				}
			}
			continue
		}
		msg, err := convertContent(content)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		messages = append(messages, msg)
	}

	if jm := jsonModeSystemPrompt(req.Config); jm != "" {
		systemPrompts = append(systemPrompts, anthropic.TextBlockParam{Text: jm})
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		Messages:  messages,
		MaxTokens: defaultMaxTokens,
	}
	if len(systemPrompts) > 0 {
		params.System = systemPrompts
	}

	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}

	if req.Config != nil {
		if req.Config.Temperature != nil {
			params.Temperature = anthropic.Float(float64(*req.Config.Temperature))
		}
		if req.Config.MaxOutputTokens != 0 {
			params.MaxTokens = int64(req.Config.MaxOutputTokens)
		}
		if req.Config.TopP != nil {
			params.TopP = anthropic.Float(float64(*req.Config.TopP))
		}
	}

	return params, nil
}

// jsonModeSystemPrompt returns the extra system text needed to emulate a
// JSON response MIME type, or "" when plain text was requested.
func jsonModeSystemPrompt(cfg *genai.GenerateContentConfig) string {
	if cfg == nil || cfg.ResponseMIMEType != "application/json" {
		return ""
	}
	if cfg.ResponseSchema == nil {
		return jsonModeInstruction
	}
	schema, err := json.Marshal(cfg.ResponseSchema)
	if err != nil {
		return jsonModeInstruction
	}
	return jsonModeInstruction + " The object must conform to this JSON schema: " + string(schema)
}

// convertContent converts a genai.Content to an Anthropic MessageParam.
func convertContent(content *genai.Content) (anthropic.MessageParam, error) {
	var blocks []anthropic.ContentBlockParamUnion

	for _, part := range content.Parts {
		switch {
		case part.Text != "":
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))

		case part.FunctionCall != nil:
			blocks = append(blocks, anthropic.NewToolUseBlock(
				part.FunctionCall.ID,
				part.FunctionCall.Args,
				part.FunctionCall.Name,
			))

		case part.FunctionResponse != nil:
			resultJSON, err := json.Marshal(part.FunctionResponse.Response)
			if err != nil {
				return anthropic.MessageParam{}, err
			}
			blocks = append(blocks, anthropic.NewToolResultBlock(
				part.FunctionResponse.ID,
				string(resultJSON),
				false,
			))
		}
	}

	if content.Role == "model" || content.Role == "assistant" {
		return anthropic.NewAssistantMessage(blocks...), nil
	}
	return anthropic.NewUserMessage(blocks...), nil
}

// declarationProvider matches ADK function tools.
type declarationProvider interface {
	Declaration() *genai.FunctionDeclaration
}

// convertTools converts ADK tools to Anthropic tool definitions.
func convertTools(tools map[string]any) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam

	for name, toolDef := range tools {
		var decl *genai.FunctionDeclaration
		switch def := toolDef.(type) {
		case *genai.FunctionDeclaration:
			decl = def
		case declarationProvider:
			decl = def.Declaration()
		}
		if decl == nil {
			slog.Warn("skipping tool without declaration", "tool", name, "type", fmt.Sprintf("%T", toolDef))
			continue
		}

		inputSchema, err := toInputSchema(decl)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}

		result = append(result, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        name,
				Description: anthropic.String(decl.Description),
				InputSchema: inputSchema,
			},
		})
	}

	return result, nil
}

// toInputSchema flattens a function declaration's parameters into the
// properties/required pair Anthropic expects.
func toInputSchema(decl *genai.FunctionDeclaration) (anthropic.ToolInputSchemaParam, error) {
	inputSchema := anthropic.ToolInputSchemaParam{Type: "object"}

	var params any
	switch {
	case decl.ParametersJsonSchema != nil:
		params = decl.ParametersJsonSchema
	case decl.Parameters != nil:
		params = decl.Parameters
	default:
		return inputSchema, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return inputSchema, err
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(raw, &schemaMap); err != nil {
		return inputSchema, err
	}
	if props, ok := schemaMap["properties"]; ok {
		inputSchema.Properties = lowerTypes(props)
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				inputSchema.Required = append(inputSchema.Required, s)
			}
		}
	}
	return inputSchema, nil
}

// lowerTypes rewrites genai's upper-case type names (STRING, OBJECT) into
// the JSON Schema spelling.
func lowerTypes(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if k == "type" {
				if s, ok := child.(string); ok {
					t[k] = strings.ToLower(s)
					continue
				}
			}
			t[k] = lowerTypes(child)
		}
		return t
	case []any:
		for i := range t {
			t[i] = lowerTypes(t[i])
		}
		return t
	default:
		return v
	}
}

// convertResponse converts an Anthropic response to an ADK LLMResponse.
func convertResponse(resp *anthropic.Message) *adkmodel.LLMResponse {
	var parts []*genai.Part

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			parts = append(parts, &genai.Part{Text: block.Text})

		case "tool_use":
			argsMap := make(map[string]any)
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &argsMap); err != nil {
					slog.Warn("failed to parse tool input", "tool", block.Name, "err", err)
				}
			}
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   block.ID,
					Name: block.Name,
					Args: argsMap,
				},
			})
		}
	}

	finishReason, turnComplete := mapStopReason(string(resp.StopReason))

	return &adkmodel.LLMResponse{
		Content: &genai.Content{
			Role:  "model",
			Parts: parts,
		},
		FinishReason: finishReason,
		TurnComplete: turnComplete,
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     int32(resp.Usage.InputTokens),
			CandidatesTokenCount: int32(resp.Usage.OutputTokens),
			TotalTokenCount:      int32(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
}

// mapStopReason maps an Anthropic stop reason to a genai finish reason.
// A tool_use stop leaves the turn open so ADK runs the tool.
func mapStopReason(reason string) (genai.FinishReason, bool) {
	switch reason {
	case "end_turn", "stop_sequence":
		return genai.FinishReasonStop, true
	case "tool_use":
		return genai.FinishReasonStop, false
	case "max_tokens":
		return genai.FinishReasonMaxTokens, true
	default:
		return genai.FinishReasonUnspecified, true
	}
}
