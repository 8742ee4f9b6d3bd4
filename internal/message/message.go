// Package message re-exports the wire message types under the names the
// rest of the codebase uses.
package message

import (
	"github.com/emberworks/ember/internal/proto"
)

type (
	Message          = proto.Message
	ToolCall         = proto.ToolCall
	ToolResult       = proto.ToolResult
	ContentPart      = proto.ContentPart
	TextContent      = proto.TextContent
	ReasoningContent = proto.ReasoningContent
	FinishReason     = proto.FinishReason
	Finish           = proto.Finish
)

const (
	Assistant = proto.Assistant
	User      = proto.User
	System    = proto.System
	Tool      = proto.Tool

	FinishReasonEndTurn      = proto.FinishReasonEndTurn
	FinishReasonMaxTokens    = proto.FinishReasonMaxTokens
	FinishReasonToolUse      = proto.FinishReasonToolUse
	FinishReasonCanceled     = proto.FinishReasonCanceled
	FinishReasonError        = proto.FinishReasonError
	FinishReasonStepLimit    = proto.FinishReasonStepLimit
	FinishReasonContinuation = proto.FinishReasonContinuation

	FinishReasonUnknown = proto.FinishReasonUnknown
)
