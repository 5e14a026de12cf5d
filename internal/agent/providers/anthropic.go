// Package providers adapts concrete LLM APIs to the agent provider
// contract. Each adapter converts the framework's message and tool shapes to
// the vendor wire format and back.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aof-dev/aof/internal/agent"
	"github.com/aof-dev/aof/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicProvider drives the Anthropic Messages API. Requests always use
// the streaming endpoint; Generate accumulates the stream into one response.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	model        string
}

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: defaultAnthropicModel,
		model:        model,
	}, nil
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Generate runs one completion without delta forwarding.
func (p *AnthropicProvider) Generate(ctx context.Context, req *agent.ModelRequest) (*agent.ModelResponse, error) {
	return p.run(ctx, req, nil)
}

// Stream runs one completion forwarding deltas to the channel.
func (p *AnthropicProvider) Stream(ctx context.Context, req *agent.ModelRequest, deltas chan<- models.StreamEvent) (*agent.ModelResponse, error) {
	return p.run(ctx, req, deltas)
}

func (p *AnthropicProvider) run(ctx context.Context, req *agent.ModelRequest, deltas chan<- models.StreamEvent) (*agent.ModelResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		content          strings.Builder
		toolCalls        []models.ToolCall
		currentToolCall  *models.ToolCall
		currentToolInput strings.Builder
		usage            agent.Usage
	)

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			usage.InputTokens = int(messageStart.Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					content.WriteString(delta.Text)
					if deltas != nil {
						deltas <- models.StreamEvent{Type: models.StreamContent, Content: delta.Text}
					}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					if deltas != nil && currentToolCall != nil {
						deltas <- models.StreamEvent{
							Type:           models.StreamToolCallDelta,
							ToolCallID:     currentToolCall.ID,
							ToolName:       currentToolCall.Name,
							ArgumentsDelta: delta.PartialJSON,
						}
					}
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				input := currentToolInput.String()
				if input == "" {
					input = "{}"
				}
				currentToolCall.Arguments = json.RawMessage(input)
				toolCalls = append(toolCalls, *currentToolCall)
				currentToolCall = nil
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(messageDelta.Usage.OutputTokens)
			}

		case "message_stop":
			if deltas != nil {
				deltas <- models.StreamEvent{Type: models.StreamStop}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}

	stopReason := agent.StopEnd
	if len(toolCalls) > 0 {
		stopReason = agent.StopToolUse
	}
	return &agent.ModelResponse{
		Content:    content.String(),
		ToolCalls:  toolCalls,
		StopReason: stopReason,
		Usage:      usage,
	}, nil
}

func (p *AnthropicProvider) buildParams(req *agent.ModelRequest) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	messages, err := convertAnthropicMessages(req.Messages)
	if err != nil {
		return params, err
	}
	params.Messages = messages

	for _, def := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if len(def.Parameters) > 0 {
			if err := json.Unmarshal(def.Parameters, &schema); err != nil {
				return params, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(def.Description)
		}
		params.Tools = append(params.Tools, toolParam)
	}
	return params, nil
}

func convertAnthropicMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case models.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				content = append(content, anthropic.NewToolUseBlock(call.ID, call.Arguments, call.Name))
			}
			if len(content) == 0 {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(content...))
		case models.RoleTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)))
		case models.RoleSystem:
			// System content travels in the request's system field.
			continue
		default:
			return nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}
	return result, nil
}
