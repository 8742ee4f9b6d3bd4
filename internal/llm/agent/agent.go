// Package agent drives one deadline-bounded, tool-using model turn per
// inbound request: the streaming loop, continuation capture near the host
// ceiling, one-shot provider fallback, and the single billing call site.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/catwalk/pkg/catwalk"

	"github.com/emberworks/ember/internal/budget"
	"github.com/emberworks/ember/internal/config"
	"github.com/emberworks/ember/internal/db"
	"github.com/emberworks/ember/internal/deadline"
	"github.com/emberworks/ember/internal/ledger"
	"github.com/emberworks/ember/internal/llm/provider"
	"github.com/emberworks/ember/internal/llm/tools"
	"github.com/emberworks/ember/internal/message"
	"github.com/emberworks/ember/internal/projectstore"
	"github.com/emberworks/ember/internal/proto"
)

// fallbackModelID is the resilient model every request may switch to at
// most once after a provider infrastructure failure.
const fallbackModelID = "claude-sonnet-4-20250514"

const continueInstruction = "The previous response was interrupted partway through. Continue exactly from where it left off. Do not restart, repeat, or summarize what was already written."

type providerFactory func(pcfg config.ProviderConfig, model catwalk.Model, opts ...provider.ProviderClientOption) (provider.Provider, error)

// Agent runs turns. One Agent serves many concurrent requests; all mutable
// per-request state lives in the session.
type Agent struct {
	cfg        *config.Config
	gate       *budget.Gate
	reconciler *ledger.Reconciler
	credits    ledger.CreditLedger
	files      projectstore.Store
	q          *db.Queries
	tools      []tools.BaseTool

	newProvider providerFactory
	clock       func() time.Time
}

type Option func(*Agent)

// WithProviderFactory overrides how provider clients are built. Used by
// tests to substitute fakes.
func WithProviderFactory(f providerFactory) Option {
	return func(a *Agent) {
		a.newProvider = f
	}
}

func WithTools(t []tools.BaseTool) Option {
	return func(a *Agent) {
		a.tools = t
	}
}

// WithClock overrides the wall clock the deadline monitor reads. Used by
// tests to step time past the thresholds.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		a.clock = now
	}
}

func New(cfg *config.Config, credits ledger.CreditLedger, files projectstore.Store, q *db.Queries, opts ...Option) *Agent {
	a := &Agent{
		cfg:         cfg,
		gate:        budget.NewGate(cfg.PlanCeilings, cfg.DefaultPlanCeiling),
		reconciler:  ledger.NewReconciler(credits),
		credits:     credits,
		files:       files,
		q:           q,
		newProvider: provider.NewProvider,
		clock:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run executes one turn and returns its event stream. The returned channel
// is closed when the turn terminates for any reason. Run rejects requests
// that cannot afford a single step before any provider call is made.
func (a *Agent) Run(ctx context.Context, req proto.TurnRequest) (<-chan proto.TurnEvent, error) {
	providerID, model, history, err := a.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	stepBudget := a.gate.Affordable(req.Plan, model, a.credits.Balance(req.UserID))
	if stepBudget.MaxSteps == 0 {
		return nil, ErrNoCredits
	}

	monitor := deadline.NewMonitorAt(a.clock(), a.clock)
	s := newSession(req, providerID, model, history, monitor)
	s.maxSteps = stepBudget.MaxSteps

	out := make(chan proto.TurnEvent, 1)
	go func() {
		defer close(out)
		a.runTurn(ctx, s, out)
	}()
	return out, nil
}

// prepare resolves the model and assembles the starting history, either
// from fresh content or from a stored continuation snapshot.
func (a *Agent) prepare(ctx context.Context, req proto.TurnRequest) (string, catwalk.Model, []message.Message, error) {
	if req.ContinuationToken != "" {
		return a.resume(ctx, req)
	}
	if req.Content == "" {
		return "", catwalk.Model{}, nil, fmt.Errorf("turn request has no content")
	}

	pcfg, ok := a.cfg.Providers[a.cfg.Primary.Provider]
	if !ok {
		return "", catwalk.Model{}, nil, fmt.Errorf("primary provider %q is not configured", a.cfg.Primary.Provider)
	}
	model, ok := a.cfg.GetModel(a.cfg.Primary.Provider, a.cfg.Primary.Model)
	if !ok {
		return "", catwalk.Model{}, nil, fmt.Errorf("primary model %q is not configured", a.cfg.Primary.Model)
	}

	history := []message.Message{
		{
			Role:  message.User,
			Parts: []message.ContentPart{message.TextContent{Text: req.Content}},
		},
	}
	return pcfg.ID, model, history, nil
}

func (a *Agent) resume(ctx context.Context, req proto.TurnRequest) (string, catwalk.Model, []message.Message, error) {
	if a.q == nil {
		return "", catwalk.Model{}, nil, fmt.Errorf("continuation store is not available")
	}
	row, err := a.q.GetContinuation(ctx, req.ContinuationToken)
	if err != nil {
		return "", catwalk.Model{}, nil, fmt.Errorf("unknown continuation token: %w", err)
	}

	var state proto.ContinuationState
	if err := json.Unmarshal([]byte(row.State), &state); err != nil {
		return "", catwalk.Model{}, nil, fmt.Errorf("failed to decode continuation state: %w", err)
	}

	pcfg, model, ok := a.cfg.FindModel(state.Model)
	if !ok {
		return "", catwalk.Model{}, nil, fmt.Errorf("continuation model %q is no longer configured", state.Model)
	}

	if len(state.ProjectFiles) > 0 {
		a.files.Restore(state.ProjectID, state.ProjectFiles)
	}
	if err := a.q.ConsumeContinuation(ctx, req.ContinuationToken); err != nil {
		slog.Warn("failed to mark continuation consumed", "token", req.ContinuationToken, "error", err)
	}

	history := append([]message.Message{}, state.Messages...)
	history = append(history, message.Message{
		Role:  message.User,
		Parts: []message.ContentPart{message.TextContent{Text: continueInstruction}},
	})
	return pcfg.ID, model, history, nil
}

// runTurn is the whole turn lifecycle: the fallback-wrapped streaming loop
// followed by the single usage reconciliation call site.
func (a *Agent) runTurn(reqCtx context.Context, s *session, out chan<- proto.TurnEvent) {
	// One cancellation signal: the hard per-request timer OR the client
	// disconnecting (reqCtx is the request context).
	runCtx, cancel := context.WithTimeout(reqCtx, deadline.HardBudget)
	defer cancel()

	outcome, err := a.runWithFallback(runCtx, s, out)

	// A client disconnect shows up on the request context no matter how the
	// attempt itself ended. A continuation captured for a caller that is
	// already gone must be billed now; no follow-up request will arrive to
	// settle it.
	if reqCtx.Err() != nil {
		s.clientAborted = true
	}

	switch outcome {
	case OutcomeAborted:
		if !s.clientAborted {
			s.errored = true
		}
	case OutcomeProviderError, OutcomeModelLogicError:
		s.errored = true
		emitControl(runCtx, out, proto.TurnEvent{
			Type:         proto.TurnEventError,
			FinishReason: proto.FinishReasonError,
			Error:        err.Error(),
		})
	}

	a.reconcile(reqCtx, s)
}

// reconcile is the only place billing happens. A turn that handed off to a
// continuation defers its ledger entry to the follow-up request, unless the
// client disconnected and no follow-up will ever arrive.
func (a *Agent) reconcile(reqCtx context.Context, s *session) {
	if s.continuationDone && !s.clientAborted {
		return
	}

	outcome := ledger.OutcomeSuccess
	switch {
	case s.clientAborted:
		outcome = ledger.OutcomeAborted
	case s.errored:
		outcome = ledger.OutcomeError
	}

	// Billing must survive client disconnects.
	ctx := context.WithoutCancel(reqCtx)
	a.reconciler.Close(ctx, ledger.Record{
		UserID:        s.req.UserID,
		Model:         s.model,
		Steps:         s.steps,
		StepUsage:     s.usage,
		InputChars:    s.inputChars,
		OutputChars:   s.outputChars(),
		Outcome:       outcome,
		Errored:       s.errored || s.clientAborted,
		Authoritative: s.authoritative,
		Monitor:       s.monitor,
	})
}

// emitControl sends an out-of-band control event. Control events bypass the
// continuation gate; each is emitted at most once per request.
func emitControl(ctx context.Context, out chan<- proto.TurnEvent, ev proto.TurnEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
