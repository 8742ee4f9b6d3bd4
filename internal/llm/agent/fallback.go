package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/charmbracelet/catwalk/pkg/catwalk"

	"github.com/emberworks/ember/internal/llm/provider"
	"github.com/emberworks/ember/internal/message"
	"github.com/emberworks/ember/internal/proto"
)

const fallbackNotice = "Temporary issue with the configured model. Switched to a fallback model to finish this response."

// runWithFallback runs the attempt loop and, on a provider infrastructure
// failure, switches to the fallback model exactly once. Model and tool
// logic errors never trigger a switch, and a request that already switched
// fails for good.
func (a *Agent) runWithFallback(ctx context.Context, s *session, out chan<- proto.TurnEvent) (AttemptOutcome, error) {
	prov, err := a.providerFor(s.providerID, s.model)
	if err != nil {
		return OutcomeProviderError, err
	}

	outcome, attemptErr := a.runAttempt(ctx, s, out, prov)
	if outcome != OutcomeProviderError || s.fallbackUsed {
		return outcome, attemptErr
	}
	if s.model.ID == fallbackModelID {
		return outcome, attemptErr
	}

	pcfg, model, ok := a.cfg.FindModel(fallbackModelID)
	if !ok {
		return OutcomeProviderError, attemptErr
	}

	s.fallbackUsed = true
	hadPartial := s.hasPartialOutput()
	slog.Warn("switching to fallback model",
		"turn_id", s.id,
		"from", s.model.ID,
		"to", model.ID,
		"had_partial", hadPartial,
		"error", attemptErr,
	)
	emitControl(ctx, out, proto.TurnEvent{
		Type:              proto.TurnEventProviderFallback,
		OriginalModel:     s.model.ID,
		FallbackMessage:   fallbackNotice,
		HadPartialContent: hadPartial,
	})

	a.seedFallback(s, hadPartial)
	s.providerID = pcfg.ID
	s.model = model
	s.resetAssistant()

	fprov, err := a.providerFor(pcfg.ID, model)
	if err != nil {
		return OutcomeProviderError, err
	}
	return a.runAttempt(ctx, s, out, fprov)
}

// seedFallback carries whatever the failed attempt produced into the
// fallback attempt's history so the new model continues rather than
// restarts.
func (a *Agent) seedFallback(s *session, hadPartial bool) {
	s.mergeAssistant()
	if !hadPartial {
		return
	}
	s.messages = append(s.messages, message.Message{
		Role:  message.User,
		Parts: []message.ContentPart{message.TextContent{Text: continueInstruction}},
	})
}

func (a *Agent) providerFor(providerID string, model catwalk.Model) (provider.Provider, error) {
	pcfg, ok := a.cfg.Providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", providerID)
	}
	return a.newProvider(pcfg, model,
		provider.WithSystemMessage(systemPrompt),
		provider.WithMaxTokens(model.DefaultMaxTokens),
	)
}
