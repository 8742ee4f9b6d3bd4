package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/google/uuid"

	"github.com/emberworks/ember/internal/budget"
	"github.com/emberworks/ember/internal/db"
	"github.com/emberworks/ember/internal/proto"
)

// Store is a [CreditLedger] that keeps balances in memory and records every
// deduction as an append-only row in SQLite.
//
// Balance lookup is normally owned by the subscription service; this store
// stands in at that boundary and seeds unknown users with a starting
// balance.
type Store struct {
	q               *db.Queries
	models          func(modelID string) (catwalk.Model, bool)
	startingBalance float64

	mu       sync.Mutex
	balances map[string]float64
}

func NewStore(q *db.Queries, models func(modelID string) (catwalk.Model, bool), startingBalance float64) *Store {
	return &Store{
		q:               q,
		models:          models,
		startingBalance: startingBalance,
		balances:        make(map[string]float64),
	}
}

func (s *Store) Balance(userID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(userID)
}

func (s *Store) balanceLocked(userID string) float64 {
	if b, ok := s.balances[userID]; ok {
		return b
	}
	s.balances[userID] = s.startingBalance
	return s.startingBalance
}

// SetBalance overrides a user's balance. Used by tests and admin tooling.
func (s *Store) SetBalance(userID string, balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
}

func (s *Store) Deduct(ctx context.Context, userID string, usage proto.TurnUsage, meta Metadata) (DeductResult, error) {
	model, ok := s.models(meta.ModelID)
	if !ok {
		return DeductResult{Success: false, Error: "unknown model"}, fmt.Errorf("unknown model %q", meta.ModelID)
	}
	credits := budget.TokenCost(model, usage.InputTokens, usage.OutputTokens)

	s.mu.Lock()
	balance := s.balanceLocked(userID) - credits
	s.balances[userID] = balance
	s.mu.Unlock()

	entry := db.LedgerEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		ModelID:        meta.ModelID,
		InputTokens:    usage.InputTokens,
		OutputTokens:   usage.OutputTokens,
		Steps:          int64(meta.Steps),
		ResponseTimeMs: meta.ResponseTime.Milliseconds(),
		Outcome:        string(meta.Outcome),
		CreditsUsed:    credits,
		BalanceAfter:   balance,
	}
	if err := s.q.CreateLedgerEntry(ctx, entry); err != nil {
		return DeductResult{Success: false, Error: err.Error()}, err
	}

	return DeductResult{
		Success:     true,
		CreditsUsed: credits,
		NewBalance:  balance,
	}, nil
}
