package proto

import "encoding/json"

// TurnEventType identifies one event on a turn's output stream.
type TurnEventType string

const (
	TurnEventTextDelta      TurnEventType = "text-delta"
	TurnEventReasoningDelta TurnEventType = "reasoning-delta"
	TurnEventToolCall       TurnEventType = "tool-call"
	TurnEventToolResult     TurnEventType = "tool-result"
	TurnEventStepFinish     TurnEventType = "step-finish"
	TurnEventDone           TurnEventType = "done"
	TurnEventError          TurnEventType = "error"

	// Out-of-band control events. Each is emitted at most once per request.
	TurnEventContinuation     TurnEventType = "continuation_signal"
	TurnEventProviderFallback TurnEventType = "provider_fallback"
)

func (t TurnEventType) MarshalText() ([]byte, error) {
	return []byte(t), nil
}

func (t *TurnEventType) UnmarshalText(data []byte) error {
	*t = TurnEventType(data)
	return nil
}

// TurnUsage is the billable token count accumulated over a turn.
type TurnUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

func (u TurnUsage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0
}

func (u *TurnUsage) Add(other TurnUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// TurnEvent is one element of the SSE stream written back to the caller.
type TurnEvent struct {
	Type TurnEventType `json:"type"`

	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
	Usage      *TurnUsage  `json:"usage,omitempty"`

	// Set on continuation_signal events.
	ContinuationState *ContinuationState `json:"continuation_state,omitempty"`
	Message           string             `json:"message,omitempty"`

	// Set on provider_fallback events.
	OriginalModel     string `json:"original_model,omitempty"`
	FallbackMessage   string `json:"fallback_message,omitempty"`
	HadPartialContent bool   `json:"had_partial_content,omitempty"`

	// Set on done and error events.
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// ContinuationState is the snapshot that lets a follow-up request resume a
// turn that was cut off near the host deadline. Captured at most once per
// turn.
type ContinuationState struct {
	Token     string `json:"token"`
	ElapsedMs int64  `json:"elapsed_ms"`

	// Full prior plus current history, with the in-progress assistant
	// message's text and reasoning merged into its trailing message.
	Messages []Message `json:"messages"`

	ToolEvents []ContentPart `json:"-"`

	Model     string `json:"model"`
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
	Plan      string `json:"plan"`
	Steps     int    `json:"steps"`

	// Opaque snapshot of external mutable state touched by tools.
	ProjectFiles map[string]string `json:"project_files,omitempty"`
}

// MarshalJSON carries the tool event list through the same tagged-part
// encoding messages use.
func (c ContinuationState) MarshalJSON() ([]byte, error) {
	events, err := MarshallParts(c.ToolEvents)
	if err != nil {
		return nil, err
	}
	type Alias ContinuationState
	return json.Marshal(&struct {
		ToolEvents json.RawMessage `json:"tool_events"`
		*Alias
	}{
		ToolEvents: json.RawMessage(events),
		Alias:      (*Alias)(&c),
	})
}

// UnmarshalJSON implements the [json.Unmarshaler] interface.
func (c *ContinuationState) UnmarshalJSON(data []byte) error {
	type Alias ContinuationState
	aux := &struct {
		ToolEvents json.RawMessage `json:"tool_events"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.ToolEvents) > 0 {
		events, err := UnmarshallParts(aux.ToolEvents)
		if err != nil {
			return err
		}
		c.ToolEvents = events
	}
	return nil
}
