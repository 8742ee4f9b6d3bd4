// Package ledger turns a terminated turn's accumulated usage into exactly
// one credit deduction.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/charmbracelet/catwalk/pkg/catwalk"

	"github.com/emberworks/ember/internal/budget"
	"github.com/emberworks/ember/internal/deadline"
	"github.com/emberworks/ember/internal/proto"
)

// Outcome tags a ledger entry for audit. It never changes the pricing
// formula.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeAborted Outcome = "aborted"
	OutcomeError   Outcome = "error"
)

// Fallback token estimation when no usage signal exists: a fixed
// characters-per-token ratio. Deliberately approximate; do not expect
// tokenizer accuracy from it.
const charsPerToken = 4

// Bounds on how long reconciliation waits for the authoritative
// end-of-stream usage total.
const (
	minUsageWait = 5 * time.Second
	maxUsageWait = 15 * time.Second
)

type Metadata struct {
	ModelID      string
	Steps        int
	ResponseTime time.Duration
	Outcome      Outcome
}

type DeductResult struct {
	Success     bool
	CreditsUsed float64
	NewBalance  float64
	Error       string
}

// CreditLedger is the external deduction boundary. Deduct must be safe to
// call with any token counts; implementations own balance bookkeeping.
type CreditLedger interface {
	Deduct(ctx context.Context, userID string, usage proto.TurnUsage, meta Metadata) (DeductResult, error)
	Balance(userID string) float64
}

// Record carries everything reconciliation needs from a terminated turn.
type Record struct {
	UserID string
	Model  catwalk.Model

	Steps     int
	StepUsage proto.TurnUsage

	// Character counts used for last-resort estimation.
	InputChars  int64
	OutputChars int64

	Outcome Outcome
	Errored bool

	// Authoritative resolves with the engine's end-of-stream usage total.
	// Nil, or never resolving, when the stream died before reporting it.
	Authoritative <-chan proto.TurnUsage

	Monitor *deadline.Monitor
}

// Reconciler computes billable usage for a turn and writes the deduction.
// It must be invoked from exactly one call site per request lifecycle.
type Reconciler struct {
	ledger CreditLedger
}

func NewReconciler(ledger CreditLedger) *Reconciler {
	return &Reconciler{ledger: ledger}
}

// Close bills the turn. It returns the deduction made, or nil when billing
// was skipped (no usage signal at all, or emergency exit). Reconciliation
// failures are logged and swallowed; the response stream has already closed
// and must not be re-opened over a billing problem.
func (r *Reconciler) Close(ctx context.Context, rec Record) *DeductResult {
	// Within the emergency margin of the host ceiling an unclean forced
	// termination is worse than undercharging.
	if rec.Monitor != nil && rec.Monitor.InEmergencyWindow() {
		slog.Warn("skipping usage reconciliation inside emergency window", "user_id", rec.UserID)
		return nil
	}

	usage, ok := r.billableUsage(ctx, rec)
	if !ok {
		// A request that produced nothing is not charged.
		return nil
	}

	meta := Metadata{
		ModelID:      rec.Model.ID,
		Steps:        rec.Steps,
		ResponseTime: r.elapsed(rec),
		Outcome:      rec.Outcome,
	}
	result, err := r.ledger.Deduct(ctx, rec.UserID, usage, meta)
	if err != nil {
		slog.Error("credit deduction failed", "user_id", rec.UserID, "error", err)
		return nil
	}
	if !result.Success {
		slog.Error("credit deduction rejected", "user_id", rec.UserID, "reason", result.Error)
		return nil
	}
	return &result
}

func (r *Reconciler) elapsed(rec Record) time.Duration {
	if rec.Monitor == nil {
		return 0
	}
	return rec.Monitor.Elapsed()
}

// billableUsage resolves the usage to bill, in priority order: the
// authoritative end-of-stream total, accumulated per-step usage, then a
// character-length estimate.
func (r *Reconciler) billableUsage(ctx context.Context, rec Record) (proto.TurnUsage, bool) {
	if !rec.Errored && rec.Authoritative != nil {
		if usage, ok := r.awaitAuthoritative(ctx, rec); ok {
			return usage, true
		}
	}

	if !rec.StepUsage.IsZero() {
		return rec.StepUsage, true
	}

	if rec.OutputChars > 0 {
		return proto.TurnUsage{
			InputTokens:  rec.InputChars / charsPerToken,
			OutputTokens: rec.OutputChars / charsPerToken,
		}, true
	}

	return proto.TurnUsage{}, false
}

func (r *Reconciler) awaitAuthoritative(ctx context.Context, rec Record) (proto.TurnUsage, bool) {
	wait := maxUsageWait
	if rec.Monitor != nil {
		if remaining := rec.Monitor.Status().Remaining - 5*time.Second; remaining < wait {
			wait = remaining
		}
	}
	if wait < minUsageWait {
		wait = minUsageWait
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case usage, ok := <-rec.Authoritative:
		if ok && !usage.IsZero() {
			return usage, true
		}
		return proto.TurnUsage{}, false
	case <-timer.C:
		slog.Warn("authoritative usage did not resolve in time", "user_id", rec.UserID, "waited", wait)
		return proto.TurnUsage{}, false
	case <-ctx.Done():
		return proto.TurnUsage{}, false
	}
}

// Cost prices usage for a model in credits.
func Cost(model catwalk.Model, usage proto.TurnUsage) float64 {
	return budget.TokenCost(model, usage.InputTokens, usage.OutputTokens)
}
