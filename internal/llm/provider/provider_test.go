package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberworks/ember/internal/config"
	"github.com/emberworks/ember/internal/message"
)

func testOpenAIClient() *openaiClient {
	return &openaiClient{providerOptions: providerClientOptions{
		model: catwalk.Model{ID: "gpt-test", DefaultMaxTokens: 4096},
	}}
}

func openaiAPIError(status int, errType string) *openai.Error {
	return &openai.Error{
		StatusCode: status,
		Type:       errType,
		Request:    &http.Request{Method: http.MethodPost, URL: &url.URL{}},
	}
}

func TestOpenAIShouldRetryServerErrors(t *testing.T) {
	t.Parallel()
	o := testOpenAIClient()

	retry, _, err := o.shouldRetry(1, openaiAPIError(http.StatusInternalServerError, ""))
	require.NoError(t, err)
	assert.True(t, retry)

	retry, _, err = o.shouldRetry(1, openaiAPIError(http.StatusTooManyRequests, ""))
	require.NoError(t, err)
	assert.True(t, retry)
}

func TestOpenAIDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()
	o := testOpenAIClient()

	retry, _, err := o.shouldRetry(1, openaiAPIError(http.StatusBadRequest, ""))
	assert.False(t, retry)
	assert.Error(t, err)

	retry, _, err = o.shouldRetry(1, openaiAPIError(http.StatusUnauthorized, ""))
	assert.False(t, retry)
	assert.Error(t, err)
}

func TestOpenAIQuotaExhaustionIsPermanent(t *testing.T) {
	t.Parallel()
	o := testOpenAIClient()

	retry, _, err := o.shouldRetry(1, openaiAPIError(http.StatusTooManyRequests, "insufficient_quota"))
	assert.False(t, retry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}

func TestOpenAIStopsAfterMaxRetries(t *testing.T) {
	t.Parallel()
	o := testOpenAIClient()

	retry, _, err := o.shouldRetry(maxRetries+1, openaiAPIError(http.StatusInternalServerError, ""))
	assert.False(t, retry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum retry attempts")
}

func TestOpenAIDoesNotRetryCancellation(t *testing.T) {
	t.Parallel()
	o := testOpenAIClient()

	retry, _, err := o.shouldRetry(1, context.Canceled)
	assert.False(t, retry)
	assert.ErrorIs(t, err, context.Canceled)

	retry, _, err = o.shouldRetry(1, context.DeadlineExceeded)
	assert.False(t, retry)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenAIBackoffGrowsPerAttempt(t *testing.T) {
	t.Parallel()
	o := testOpenAIClient()

	_, first, err := o.shouldRetry(1, fmt.Errorf("connection reset"))
	require.NoError(t, err)
	_, second, err := o.shouldRetry(2, fmt.Errorf("connection reset"))
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestAnthropicShouldRetryOverloaded(t *testing.T) {
	t.Parallel()
	a := &anthropicClient{}

	retry, _, err := a.shouldRetry(1, &anthropic.Error{
		StatusCode: 529,
		Request:    &http.Request{Method: http.MethodPost, URL: &url.URL{}},
	})
	require.NoError(t, err)
	assert.True(t, retry)

	retry, _, err = a.shouldRetry(1, &anthropic.Error{
		StatusCode: http.StatusBadRequest,
		Request:    &http.Request{Method: http.MethodPost, URL: &url.URL{}},
	})
	assert.False(t, retry)
	assert.Error(t, err)
}

func TestOpenAIFinishReasonMapping(t *testing.T) {
	t.Parallel()
	o := testOpenAIClient()

	assert.Equal(t, message.FinishReasonEndTurn, o.finishReason("stop"))
	assert.Equal(t, message.FinishReasonMaxTokens, o.finishReason("length"))
	assert.Equal(t, message.FinishReasonToolUse, o.finishReason("tool_calls"))
	assert.Equal(t, message.FinishReasonUnknown, o.finishReason("weird"))
}

func TestAnthropicFinishReasonMapping(t *testing.T) {
	t.Parallel()
	a := &anthropicClient{}

	assert.Equal(t, message.FinishReasonEndTurn, a.finishReason("end_turn"))
	assert.Equal(t, message.FinishReasonMaxTokens, a.finishReason("max_tokens"))
	assert.Equal(t, message.FinishReasonToolUse, a.finishReason("tool_use"))
	assert.Equal(t, message.FinishReasonUnknown, a.finishReason(""))
}

func TestConvertMessagesSkipsUnfinishedToolCalls(t *testing.T) {
	t.Parallel()
	o := testOpenAIClient()

	history := []message.Message{
		{Role: message.User, Parts: []message.ContentPart{message.TextContent{Text: "hi"}}},
		{Role: message.Assistant, Parts: []message.ContentPart{
			toolCallPart("call-1", true),
			toolCallPart("call-2", false),
		}},
	}

	converted := o.convertMessages(history)
	require.Len(t, converted, 2)
	require.NotNil(t, converted[1].OfAssistant)
	require.Len(t, converted[1].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "call-1", converted[1].OfAssistant.ToolCalls[0].ID)
}

func toolCallPart(id string, finished bool) message.ToolCall {
	return message.ToolCall{ID: id, Name: "noop", Input: `{}`, Finished: finished}
}

func TestNewProviderRejectsUnknownType(t *testing.T) {
	t.Parallel()
	_, err := NewProvider(config.ProviderConfig{Type: catwalk.Type("mystery")}, catwalk.Model{ID: "m"})
	assert.Error(t, err)
}
