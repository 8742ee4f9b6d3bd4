package agent

import (
	"context"
	"fmt"

	"github.com/emberworks/ember/internal/llm/provider"
	"github.com/emberworks/ember/internal/llm/tools"
	"github.com/emberworks/ember/internal/message"
	"github.com/emberworks/ember/internal/proto"
)

// emitter relays engine events downstream. Every relay first updates the
// session buffers (callers do that) and then consults the deadline; the
// first reading past the continuation threshold captures the snapshot and
// closes the gate for all further raw events.
type emitter struct {
	agent *Agent
	s     *session
	out   chan<- proto.TurnEvent
	ctx   context.Context
}

// relay sends one raw engine event. It returns false once the continuation
// gate has closed; the caller must stop producing events.
func (e *emitter) relay(ev proto.TurnEvent) bool {
	if e.s.continuationDone {
		return false
	}
	if e.s.monitor.Status().ShouldContinue {
		e.agent.captureContinuation(e.ctx, e.s, e.out)
		return false
	}
	select {
	case e.out <- ev:
	case <-e.ctx.Done():
	}
	return true
}

// runAttempt drives the step loop against one provider until the turn
// completes, fails, aborts, or hands off to a continuation snapshot.
func (a *Agent) runAttempt(ctx context.Context, s *session, out chan<- proto.TurnEvent, prov provider.Provider) (AttemptOutcome, error) {
	e := &emitter{agent: a, s: s, out: out, ctx: ctx}

	for {
		if err := ctx.Err(); err != nil {
			return OutcomeAborted, err
		}

		if st := s.monitor.Status(); st.ApproachingTimeout && !s.warned {
			s.warned = true
			s.messages = append(s.messages, message.Message{
				Role:  message.User,
				Parts: []message.ContentPart{message.TextContent{Text: st.WarningMessage}},
			})
		}

		resp, outcome, err := a.streamStep(ctx, e, prov)
		if outcome != OutcomeSuccess {
			return outcome, err
		}

		stepUsage := proto.TurnUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		}
		s.usage.Add(stepUsage)
		s.steps++
		if !e.relay(proto.TurnEvent{Type: proto.TurnEventStepFinish, Usage: &stepUsage}) {
			return outcomeContinuation, nil
		}

		if resp.FinishReason == message.FinishReasonToolUse && len(resp.ToolCalls) > 0 {
			outcome, err := a.runTools(ctx, e, resp.ToolCalls)
			if outcome != OutcomeSuccess {
				return outcome, err
			}
			if s.steps >= s.maxSteps {
				return a.finishTurn(ctx, e, message.FinishReasonStepLimit)
			}
			continue
		}

		return a.finishTurn(ctx, e, resp.FinishReason)
	}
}

// streamStep runs one provider call, relaying deltas as they arrive. The
// assistant buffer is always updated before the corresponding event is
// relayed, so an interruption at any point leaves a consistent snapshot.
func (a *Agent) streamStep(ctx context.Context, e *emitter, prov provider.Provider) (*provider.ProviderResponse, AttemptOutcome, error) {
	s := e.s
	events := prov.StreamResponse(ctx, s.messages, a.tools)

	for ev := range events {
		switch ev.Type {
		case provider.EventContentDelta:
			s.assistant.AppendContent(ev.Content)
			if !e.relay(proto.TurnEvent{Type: proto.TurnEventTextDelta, Text: ev.Content}) {
				go drain(events)
				return nil, outcomeContinuation, nil
			}
		case provider.EventThinkingDelta:
			s.assistant.AppendReasoningContent(ev.Thinking)
			if !e.relay(proto.TurnEvent{Type: proto.TurnEventReasoningDelta, Text: ev.Thinking}) {
				go drain(events)
				return nil, outcomeContinuation, nil
			}
		case provider.EventToolUseStart:
			if ev.ToolCall != nil {
				s.assistant.AddToolCall(*ev.ToolCall)
			}
		case provider.EventComplete:
			s.assistant.FinishThinking()
			for _, call := range ev.Response.ToolCalls {
				s.assistant.AddToolCall(call)
			}
			return ev.Response, OutcomeSuccess, nil
		case provider.EventError:
			return nil, classifyAttemptError(ev.Error), ev.Error
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, OutcomeAborted, err
	}
	return nil, OutcomeProviderError, fmt.Errorf("provider stream closed without a completion")
}

// runTools executes the step's tool calls sequentially, relaying each
// call and its result. Results are appended as a tool-role message so the
// next step's history carries them.
func (a *Agent) runTools(ctx context.Context, e *emitter, calls []message.ToolCall) (AttemptOutcome, error) {
	s := e.s
	s.mergeAssistant()

	toolCtx := context.WithValue(ctx, tools.TurnIDContextKey, s.id)
	toolCtx = context.WithValue(toolCtx, tools.ProjectIDContextKey, s.req.ProjectID)

	results := message.Message{
		ID:     s.assistant.ID,
		Role:   message.Tool,
		TurnID: s.id,
	}
	for i := range calls {
		call := calls[i]
		s.toolEvents = append(s.toolEvents, proto.ToolCall(call))
		if !e.relay(proto.TurnEvent{Type: proto.TurnEventToolCall, ToolCall: &call}) {
			return outcomeContinuation, nil
		}

		result, err := a.runTool(toolCtx, call)
		if err != nil {
			return classifyAttemptError(err), err
		}

		results.AddToolResult(result)
		s.toolEvents = append(s.toolEvents, result)
		if !e.relay(proto.TurnEvent{Type: proto.TurnEventToolResult, ToolResult: &result}) {
			s.messages = append(s.messages, results)
			return outcomeContinuation, nil
		}

		if err := ctx.Err(); err != nil {
			s.messages = append(s.messages, results)
			return OutcomeAborted, err
		}
	}

	s.messages = append(s.messages, results)
	return OutcomeSuccess, nil
}

func (a *Agent) runTool(ctx context.Context, call message.ToolCall) (message.ToolResult, error) {
	tool := a.toolByName(call.Name)
	if tool == nil {
		return message.ToolResult{
			ToolCallID: call.ID,
			Name:       call.Name,
			Content:    fmt.Sprintf("tool not found: %s", call.Name),
			IsError:    true,
		}, nil
	}

	resp, err := tool.Run(ctx, tools.ToolCall(call))
	if err != nil {
		if ctx.Err() != nil {
			return message.ToolResult{}, ctx.Err()
		}
		return message.ToolResult{}, &ModelLogicError{Reason: fmt.Sprintf("tool %s: %s", call.Name, err)}
	}
	return message.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    resp.Content,
		Metadata:   resp.Metadata,
		IsError:    resp.IsError,
	}, nil
}

func (a *Agent) toolByName(name string) tools.BaseTool {
	for _, t := range a.tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// finishTurn closes out a completed turn: the finish part is recorded, the
// authoritative usage total is published for reconciliation, and the done
// event is emitted.
func (a *Agent) finishTurn(ctx context.Context, e *emitter, reason message.FinishReason) (AttemptOutcome, error) {
	s := e.s
	s.assistant.AddFinish(reason, "", "")
	s.mergeAssistant()

	s.authoritative <- s.usage
	close(s.authoritative)

	emitControl(ctx, e.out, proto.TurnEvent{
		Type:         proto.TurnEventDone,
		FinishReason: reason,
		Usage:        &s.usage,
	})
	return OutcomeSuccess, nil
}

// drain consumes a provider stream that was abandoned without cancelling
// its context, so the producing goroutine can exit.
func drain(events <-chan provider.ProviderEvent) {
	for range events {
	}
}
