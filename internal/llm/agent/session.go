package agent

import (
	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/google/uuid"

	"github.com/emberworks/ember/internal/deadline"
	"github.com/emberworks/ember/internal/message"
	"github.com/emberworks/ember/internal/proto"
)

// session is one attempt to produce an assistant turn for one inbound
// request. It is mutated only by the turn loop goroutine.
type session struct {
	id      string
	req     proto.TurnRequest
	monitor *deadline.Monitor

	providerID string
	model      catwalk.Model

	// Prior plus current history. The in-progress assistant message is kept
	// separate until it is merged on step finish or continuation capture.
	messages  []message.Message
	assistant message.Message

	// Ordered tool-call / tool-result events across the whole turn.
	toolEvents []proto.ContentPart

	usage proto.TurnUsage
	steps int

	maxSteps int

	clientAborted bool
	errored       bool

	// fallbackUsed transitions false -> true at most once and never
	// reverts.
	fallbackUsed bool

	// continuationDone is set when the single continuation snapshot has
	// been emitted; no raw engine events are relayed afterwards.
	continuationDone bool

	// warned is set once the wrap-up warning was injected into the history.
	warned bool

	inputChars int64

	// authoritative receives the engine's end-of-stream usage total on
	// clean completion. Buffered so the loop never blocks on it.
	authoritative chan proto.TurnUsage
}

func newSession(req proto.TurnRequest, providerID string, model catwalk.Model, history []message.Message, monitor *deadline.Monitor) *session {
	s := &session{
		id:            uuid.NewString(),
		req:           req,
		monitor:       monitor,
		providerID:    providerID,
		model:         model,
		messages:      history,
		authoritative: make(chan proto.TurnUsage, 1),
	}
	s.resetAssistant()
	for _, msg := range history {
		s.inputChars += int64(len(msg.Content().Text))
	}
	return s
}

func (s *session) resetAssistant() {
	s.assistant = message.Message{
		ID:       uuid.NewString(),
		Role:     message.Assistant,
		TurnID:   s.id,
		Model:    s.model.ID,
		Provider: s.providerID,
	}
}

// mergeAssistant folds the in-progress assistant message into the history
// and starts a fresh one for the next step.
func (s *session) mergeAssistant() {
	if len(s.assistant.Parts) > 0 {
		s.messages = append(s.messages, s.assistant)
	}
	s.resetAssistant()
}

// outputChars counts accumulated text and reasoning across the whole turn,
// for last-resort billing estimation.
func (s *session) outputChars() int64 {
	var n int64
	for _, msg := range s.messages {
		if msg.Role != message.Assistant {
			continue
		}
		n += int64(len(msg.Content().Text))
		n += int64(len(msg.ReasoningContent().Thinking))
	}
	n += int64(len(s.assistant.Content().Text))
	n += int64(len(s.assistant.ReasoningContent().Thinking))
	return n
}

// hasPartialOutput reports whether any assistant output was produced in
// this turn so far.
func (s *session) hasPartialOutput() bool {
	return s.outputChars() > 0 || len(s.toolEvents) > 0
}

// partialText returns the text accumulated for the current in-progress
// step.
func (s *session) partialText() string {
	return s.assistant.Content().Text
}
