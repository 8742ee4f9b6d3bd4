package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/charmbracelet/catwalk/pkg/catwalk"

	"github.com/emberworks/ember/internal/llm/tools"
	"github.com/emberworks/ember/internal/message"
)

type anthropicClient struct {
	providerOptions providerClientOptions
	client          anthropic.Client
}

type AnthropicClient providerClient

func newAnthropicClient(opts providerClientOptions) AnthropicClient {
	anthropicClientOptions := []option.RequestOption{}
	if opts.apiKey != "" {
		anthropicClientOptions = append(anthropicClientOptions, option.WithAPIKey(opts.apiKey))
	}
	if opts.baseURL != "" {
		anthropicClientOptions = append(anthropicClientOptions, option.WithBaseURL(opts.baseURL))
	}
	for key, value := range opts.extraHeaders {
		anthropicClientOptions = append(anthropicClientOptions, option.WithHeader(key, value))
	}
	return &anthropicClient{
		providerOptions: opts,
		client:          anthropic.NewClient(anthropicClientOptions...),
	}
}

func (a *anthropicClient) convertMessages(messages []message.Message) (anthropicMessages []anthropic.MessageParam) {
	for _, msg := range messages {
		switch msg.Role {
		case message.User:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content().String())))

		case message.Assistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content().String() != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content().String()))
			}
			for _, toolCall := range msg.ToolCalls() {
				if !toolCall.Finished {
					continue
				}
				var inputMap map[string]any
				if err := json.Unmarshal([]byte(toolCall.Input), &inputMap); err != nil {
					continue
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(toolCall.ID, inputMap, toolCall.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(blocks...))

		case message.Tool:
			results := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolResults()))
			for _, result := range msg.ToolResults() {
				results = append(results, anthropic.NewToolResultBlock(result.ToolCallID, result.Content, result.IsError))
			}
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(results...))
		}
	}
	return anthropicMessages
}

func (a *anthropicClient) convertTools(tools []tools.BaseTool) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		info := tool.Info()
		toolParam := anthropic.ToolParam{
			Name:        info.Name,
			Description: anthropic.String(info.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: info.Parameters,
				Required:   info.Required,
			},
		}
		anthropicTools[i] = anthropic.ToolUnionParam{OfTool: &toolParam}
	}

	return anthropicTools
}

func (a *anthropicClient) finishReason(reason string) message.FinishReason {
	switch reason {
	case "end_turn":
		return message.FinishReasonEndTurn
	case "max_tokens":
		return message.FinishReasonMaxTokens
	case "tool_use":
		return message.FinishReasonToolUse
	default:
		return message.FinishReasonUnknown
	}
}

func (a *anthropicClient) preparedParams(messages []anthropic.MessageParam, tools []anthropic.ToolUnionParam) anthropic.MessageNewParams {
	model := a.providerOptions.model

	maxTokens := model.DefaultMaxTokens
	if a.providerOptions.maxTokens > 0 {
		maxTokens = a.providerOptions.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model.ID),
		MaxTokens: maxTokens,
		Messages:  messages,
		Tools:     tools,
	}
	if a.providerOptions.systemMessage != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: a.providerOptions.systemMessage},
		}
	}

	return params
}

func (a *anthropicClient) stream(ctx context.Context, messages []message.Message, tools []tools.BaseTool) <-chan ProviderEvent {
	params := a.preparedParams(a.convertMessages(messages), a.convertTools(tools))

	attempts := 0
	eventChan := make(chan ProviderEvent)

	go func() {
		for {
			attempts++
			anthropicStream := a.client.Messages.NewStreaming(ctx, params)

			accumulated := anthropic.Message{}
			currentContent := ""
			currentToolID := ""
			for anthropicStream.Next() {
				event := anthropicStream.Current()
				if err := accumulated.Accumulate(event); err != nil {
					slog.Warn("failed to accumulate stream event", "error", err)
					continue
				}

				switch event := event.AsAny().(type) {
				case anthropic.ContentBlockStartEvent:
					if event.ContentBlock.Type == "tool_use" {
						currentToolID = event.ContentBlock.ID
						eventChan <- ProviderEvent{
							Type: EventToolUseStart,
							ToolCall: &message.ToolCall{
								ID:       event.ContentBlock.ID,
								Name:     event.ContentBlock.Name,
								Finished: false,
							},
						}
					}
				case anthropic.ContentBlockDeltaEvent:
					switch event.Delta.Type {
					case "text_delta":
						if event.Delta.Text != "" {
							currentContent += event.Delta.Text
							eventChan <- ProviderEvent{
								Type:    EventContentDelta,
								Content: event.Delta.Text,
							}
						}
					case "thinking_delta":
						if event.Delta.Thinking != "" {
							eventChan <- ProviderEvent{
								Type:     EventThinkingDelta,
								Thinking: event.Delta.Thinking,
							}
						}
					case "input_json_delta":
						if event.Delta.PartialJSON != "" {
							eventChan <- ProviderEvent{
								Type: EventToolUseDelta,
								ToolCall: &message.ToolCall{
									ID:    currentToolID,
									Input: event.Delta.PartialJSON,
								},
							}
						}
					}
				case anthropic.ContentBlockStopEvent:
					if currentToolID != "" {
						eventChan <- ProviderEvent{
							Type:     EventToolUseStop,
							ToolCall: &message.ToolCall{ID: currentToolID},
						}
						currentToolID = ""
					}
				}
			}

			err := anthropicStream.Err()
			if err == nil || errors.Is(err, io.EOF) {
				eventChan <- ProviderEvent{
					Type: EventComplete,
					Response: &ProviderResponse{
						Content:      currentContent,
						ToolCalls:    a.toolCalls(accumulated),
						Usage:        a.usage(accumulated),
						FinishReason: a.finishReason(string(accumulated.StopReason)),
					},
				}
				close(eventChan)
				return
			}

			retry, after, retryErr := a.shouldRetry(attempts, err)
			if retryErr != nil {
				eventChan <- ProviderEvent{Type: EventError, Error: retryErr}
				close(eventChan)
				return
			}
			if retry {
				slog.Warn("Retrying provider stream", "attempt", attempts, "max_retries", maxRetries, "error", err)
				select {
				case <-ctx.Done():
					if ctx.Err() != nil {
						eventChan <- ProviderEvent{Type: EventError, Error: ctx.Err()}
					}
					close(eventChan)
					return
				case <-time.After(time.Duration(after) * time.Millisecond):
					continue
				}
			}
			eventChan <- ProviderEvent{Type: EventError, Error: err}
			close(eventChan)
			return
		}
	}()

	return eventChan
}

func (a *anthropicClient) shouldRetry(attempts int, err error) (bool, int64, error) {
	if attempts > maxRetries {
		return false, 0, fmt.Errorf("maximum retry attempts reached: %d retries", maxRetries)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, 0, err
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		slog.Error("Anthropic API error", "error", err.Error(), "attempt", attempts, "max_retries", maxRetries)
		// Transport-level failures are worth one more pass through the
		// backoff loop.
		return true, int64(2000 * (1 << (attempts - 1))), nil
	}

	// 529 is Anthropic's overloaded status.
	retryable := apiErr.StatusCode == http.StatusTooManyRequests ||
		apiErr.StatusCode == 529 ||
		apiErr.StatusCode >= http.StatusInternalServerError
	if !retryable {
		return false, 0, err
	}

	slog.Warn("Anthropic API error", "status_code", apiErr.StatusCode, "attempt", attempts)

	retryMs := 2000 * (1 << (attempts - 1))
	if apiErr.Response != nil {
		if values := apiErr.Response.Header.Values("Retry-After"); len(values) > 0 {
			if _, err := fmt.Sscanf(values[0], "%d", &retryMs); err == nil {
				retryMs = retryMs * 1000
			}
		}
	}
	return true, int64(retryMs), nil
}

func (a *anthropicClient) toolCalls(msg anthropic.Message) []message.ToolCall {
	var toolCalls []message.ToolCall
	for _, block := range msg.Content {
		if block.Type != "tool_use" {
			continue
		}
		toolCalls = append(toolCalls, message.ToolCall{
			ID:       block.ID,
			Name:     block.Name,
			Input:    string(block.Input),
			Type:     "tool_use",
			Finished: true,
		})
	}
	return toolCalls
}

func (a *anthropicClient) usage(msg anthropic.Message) TokenUsage {
	return TokenUsage{
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}
}

func (a *anthropicClient) Model() catwalk.Model {
	return a.providerOptions.model
}
