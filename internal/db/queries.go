package db

import (
	"context"
	"database/sql"
	"time"
)

// LedgerEntry is one billing deduction row.
type LedgerEntry struct {
	ID             string
	UserID         string
	ModelID        string
	InputTokens    int64
	OutputTokens   int64
	Steps          int64
	ResponseTimeMs int64
	Outcome        string
	CreditsUsed    float64
	BalanceAfter   float64
	CreatedAt      int64
}

// Continuation is one stored turn snapshot, keyed by its correlation token.
type Continuation struct {
	Token      string
	TurnID     string
	State      string
	CreatedAt  int64
	ConsumedAt sql.NullInt64
}

// Queries wraps the raw connection with the statements the server needs.
type Queries struct {
	db *sql.DB
}

func New(conn *sql.DB) *Queries {
	return &Queries{db: conn}
}

func (q *Queries) CreateLedgerEntry(ctx context.Context, e LedgerEntry) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO ledger_entries
			(id, user_id, model_id, input_tokens, output_tokens, steps, response_time_ms, outcome, credits_used, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, e.ModelID, e.InputTokens, e.OutputTokens, e.Steps, e.ResponseTimeMs, e.Outcome, e.CreditsUsed, e.BalanceAfter, time.Now().Unix())
	return err
}

func (q *Queries) ListLedgerEntriesByUser(ctx context.Context, userID string) ([]LedgerEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, user_id, model_id, input_tokens, output_tokens, steps, response_time_ms, outcome, credits_used, balance_after, created_at
		FROM ledger_entries
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.ModelID, &e.InputTokens, &e.OutputTokens, &e.Steps, &e.ResponseTimeMs, &e.Outcome, &e.CreditsUsed, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q *Queries) SaveContinuation(ctx context.Context, token, turnID, state string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO continuations (token, turn_id, state, created_at)
		VALUES (?, ?, ?, ?)
	`, token, turnID, state, time.Now().Unix())
	return err
}

func (q *Queries) GetContinuation(ctx context.Context, token string) (Continuation, error) {
	var c Continuation
	err := q.db.QueryRowContext(ctx, `
		SELECT token, turn_id, state, created_at, consumed_at
		FROM continuations
		WHERE token = ? AND consumed_at IS NULL
	`, token).Scan(&c.Token, &c.TurnID, &c.State, &c.CreatedAt, &c.ConsumedAt)
	return c, err
}

// ConsumeContinuation marks a snapshot as used by a follow-up request.
func (q *Queries) ConsumeContinuation(ctx context.Context, token string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE continuations SET consumed_at = ? WHERE token = ?
	`, time.Now().Unix(), token)
	return err
}
