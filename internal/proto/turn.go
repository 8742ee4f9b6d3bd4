package proto

// TurnRequest is the body of POST /v1/turns. Either Content or
// ContinuationToken must be set; a continuation token resumes a turn that
// previously emitted a continuation_signal.
type TurnRequest struct {
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
	Plan      string `json:"plan"`
	Content   string `json:"content,omitempty"`

	ContinuationToken string `json:"continuation_token,omitempty"`
}

// Error is the JSON body of every non-2xx response.
type Error struct {
	Message string `json:"message"`
}

// LedgerEntry is one billing deduction as served by
// GET /v1/users/{id}/ledger.
type LedgerEntry struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	ModelID        string  `json:"model_id"`
	InputTokens    int64   `json:"input_tokens"`
	OutputTokens   int64   `json:"output_tokens"`
	Steps          int64   `json:"steps"`
	ResponseTimeMs int64   `json:"response_time_ms"`
	Outcome        string  `json:"outcome"`
	CreditsUsed    float64 `json:"credits_used"`
	BalanceAfter   float64 `json:"balance_after"`
	CreatedAt      int64   `json:"created_at"`
}

// ServerControl is the body of POST /v1/control.
type ServerControl struct {
	Command string `json:"command"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}
