package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/emberworks/ember/internal/proto"
)

const continuationNotice = "Response truncated due to time limit. Send the continuation token to resume."

// captureContinuation snapshots the turn for a follow-up request and emits
// the continuation event. It runs at most once per turn; every raw-event
// relay after it is suppressed.
func (a *Agent) captureContinuation(ctx context.Context, s *session, out chan<- proto.TurnEvent) {
	if s.continuationDone {
		return
	}
	s.continuationDone = true

	st := s.monitor.Status()
	s.mergeAssistant()

	state := &proto.ContinuationState{
		Token:      uuid.NewString(),
		ElapsedMs:  st.Elapsed.Milliseconds(),
		Messages:   slices.Clone(s.messages),
		ToolEvents: slices.Clone(s.toolEvents),
		Model:      s.model.ID,
		UserID:     s.req.UserID,
		ProjectID:  s.req.ProjectID,
		Plan:       s.req.Plan,
		Steps:      s.steps,
	}
	if s.req.ProjectID != "" {
		state.ProjectFiles = a.files.Snapshot(s.req.ProjectID)
	}

	a.persistContinuation(ctx, s, state)

	emitControl(ctx, out, proto.TurnEvent{
		Type:              proto.TurnEventContinuation,
		ContinuationState: state,
		Message:           continuationNotice,
	})
}

// persistContinuation stores the snapshot for token-based resume. Failure
// is logged, not fatal: the client still receives the full state inline.
func (a *Agent) persistContinuation(ctx context.Context, s *session, state *proto.ContinuationState) {
	if a.q == nil {
		return
	}
	payload, err := json.Marshal(state)
	if err != nil {
		slog.Error("failed to encode continuation state", "turn_id", s.id, "error", err)
		return
	}
	if err := a.q.SaveContinuation(context.WithoutCancel(ctx), state.Token, s.id, string(payload)); err != nil {
		slog.Error("failed to persist continuation state", "turn_id", s.id, "token", state.Token, "error", err)
	}
}
