package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aof-dev/aof/internal/agent"
	"github.com/aof-dev/aof/pkg/models"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider drives the OpenAI Chat Completions API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return "openai" }

// Generate runs one completion.
func (p *OpenAIProvider) Generate(ctx context.Context, req *agent.ModelRequest) (*agent.ModelResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: empty choices")
	}

	choice := resp.Choices[0]
	out := &agent.ModelResponse{
		Content:    choice.Message.Content,
		StopReason: mapFinishReason(choice.FinishReason),
		Usage: agent.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}
	return out, nil
}

// Stream runs one completion forwarding content deltas. Tool call arguments
// are accumulated and emitted as deltas per fragment.
func (p *OpenAIProvider) Stream(ctx context.Context, req *agent.ModelRequest, deltas chan<- models.StreamEvent) (*agent.ModelResponse, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("openai stream: %w", err)
	}
	defer stream.Close()

	out := &agent.ModelResponse{StopReason: agent.StopEnd}
	var content string
	toolCalls := map[int]*models.ToolCall{}
	maxIndex := -1

	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("openai stream: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			content += choice.Delta.Content
			deltas <- models.StreamEvent{Type: models.StreamContent, Content: choice.Delta.Content}
		}
		for _, call := range choice.Delta.ToolCalls {
			idx := 0
			if call.Index != nil {
				idx = *call.Index
			}
			entry, ok := toolCalls[idx]
			if !ok {
				entry = &models.ToolCall{}
				toolCalls[idx] = entry
				if idx > maxIndex {
					maxIndex = idx
				}
			}
			if call.ID != "" {
				entry.ID = call.ID
			}
			if call.Function.Name != "" {
				entry.Name = call.Function.Name
			}
			if call.Function.Arguments != "" {
				entry.Arguments = append(entry.Arguments, []byte(call.Function.Arguments)...)
				deltas <- models.StreamEvent{
					Type:           models.StreamToolCallDelta,
					ToolCallID:     entry.ID,
					ToolName:       entry.Name,
					ArgumentsDelta: call.Function.Arguments,
				}
			}
		}
		if choice.FinishReason != "" {
			out.StopReason = mapFinishReason(choice.FinishReason)
		}
	}
	deltas <- models.StreamEvent{Type: models.StreamStop}

	out.Content = content
	for i := 0; i <= maxIndex; i++ {
		if entry, ok := toolCalls[i]; ok {
			if len(entry.Arguments) == 0 {
				entry.Arguments = json.RawMessage("{}")
			}
			out.ToolCalls = append(out.ToolCalls, *entry)
		}
	}
	if len(out.ToolCalls) > 0 && out.StopReason == agent.StopEnd {
		out.StopReason = agent.StopToolUse
	}
	return out, nil
}

func (p *OpenAIProvider) buildRequest(req *agent.ModelRequest, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:     p.model,
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.System != "" {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, convertOpenAIMessage(msg))
	}
	for _, def := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return out
}

func convertOpenAIMessage(msg models.Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{
		Role:    string(msg.Role),
		Content: msg.Content,
	}
	if msg.Role == models.RoleTool {
		out.ToolCallID = msg.ToolCallID
	}
	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
			ID:   call.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      call.Name,
				Arguments: string(call.Arguments),
			},
		})
	}
	return out
}

func mapFinishReason(reason openai.FinishReason) agent.StopReason {
	switch reason {
	case openai.FinishReasonStop:
		return agent.StopEnd
	case openai.FinishReasonLength:
		return agent.StopMaxTokens
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return agent.StopToolUse
	case openai.FinishReasonContentFilter:
		return agent.StopSafety
	default:
		return agent.StopEnd
	}
}
