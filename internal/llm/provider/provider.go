// Package provider adapts backing model APIs to a single streaming event
// channel consumed by the turn loop.
package provider

import (
	"context"
	"fmt"

	"github.com/charmbracelet/catwalk/pkg/catwalk"

	"github.com/emberworks/ember/internal/config"
	"github.com/emberworks/ember/internal/llm/tools"
	"github.com/emberworks/ember/internal/message"
)

type EventType string

const maxRetries = 3

const (
	EventContentDelta  EventType = "content_delta"
	EventThinkingDelta EventType = "thinking_delta"
	EventToolUseStart  EventType = "tool_use_start"
	EventToolUseDelta  EventType = "tool_use_delta"
	EventToolUseStop   EventType = "tool_use_stop"
	EventComplete      EventType = "complete"
	EventError         EventType = "error"
)

type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

type ProviderResponse struct {
	Content      string
	ToolCalls    []message.ToolCall
	Usage        TokenUsage
	FinishReason message.FinishReason
}

type ProviderEvent struct {
	Type EventType

	Content  string
	Thinking string
	Response *ProviderResponse
	ToolCall *message.ToolCall
	Error    error
}

// Provider streams one model attempt. The returned channel is finite per
// attempt and not restartable; it closes after EventComplete or EventError.
type Provider interface {
	StreamResponse(ctx context.Context, messages []message.Message, tools []tools.BaseTool) <-chan ProviderEvent

	Model() catwalk.Model
}

type providerClientOptions struct {
	config        config.ProviderConfig
	model         catwalk.Model
	apiKey        string
	baseURL       string
	systemMessage string
	maxTokens     int64
	extraHeaders  map[string]string
	debug         bool
}

type ProviderClientOption func(*providerClientOptions)

func WithSystemMessage(systemMessage string) ProviderClientOption {
	return func(options *providerClientOptions) {
		options.systemMessage = systemMessage
	}
}

func WithMaxTokens(maxTokens int64) ProviderClientOption {
	return func(options *providerClientOptions) {
		options.maxTokens = maxTokens
	}
}

func WithDebug(debug bool) ProviderClientOption {
	return func(options *providerClientOptions) {
		options.debug = debug
	}
}

type providerClient interface {
	stream(ctx context.Context, messages []message.Message, tools []tools.BaseTool) <-chan ProviderEvent

	Model() catwalk.Model
}

type baseProvider[C providerClient] struct {
	options providerClientOptions
	client  C
}

func (p *baseProvider[C]) cleanMessages(messages []message.Message) (cleaned []message.Message) {
	for _, msg := range messages {
		// The message has no content
		if len(msg.Parts) == 0 {
			continue
		}
		cleaned = append(cleaned, msg)
	}
	return cleaned
}

func (p *baseProvider[C]) StreamResponse(ctx context.Context, messages []message.Message, tools []tools.BaseTool) <-chan ProviderEvent {
	messages = p.cleanMessages(messages)
	return p.client.stream(ctx, messages, tools)
}

func (p *baseProvider[C]) Model() catwalk.Model {
	return p.client.Model()
}

// NewProvider builds a [Provider] for one concrete model of a configured
// provider.
func NewProvider(pcfg config.ProviderConfig, model catwalk.Model, opts ...ProviderClientOption) (Provider, error) {
	clientOptions := providerClientOptions{
		config:       pcfg,
		model:        model,
		apiKey:       pcfg.APIKey,
		baseURL:      pcfg.BaseURL,
		extraHeaders: pcfg.ExtraHeaders,
	}
	for _, o := range opts {
		o(&clientOptions)
	}

	switch pcfg.Type {
	case catwalk.TypeAnthropic:
		return &baseProvider[AnthropicClient]{
			options: clientOptions,
			client:  newAnthropicClient(clientOptions),
		}, nil
	case catwalk.TypeOpenAI:
		return &baseProvider[OpenAIClient]{
			options: clientOptions,
			client:  newOpenAIClient(clientOptions),
		}, nil
	}
	return nil, fmt.Errorf("provider not supported: %s", pcfg.Type)
}
