package agent

import (
	"context"
	"errors"
	"fmt"
)

// AttemptOutcome classifies how one provider attempt ended.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	// OutcomeProviderError is an infrastructure-level failure: connectivity,
	// auth, capacity, or a malformed provider response. The only outcome
	// that authorizes a fallback attempt.
	OutcomeProviderError AttemptOutcome = "providerError"
	// OutcomeModelLogicError is a failure produced by tool or model logic.
	// Never retried.
	OutcomeModelLogicError AttemptOutcome = "modelLogicError"
	OutcomeAborted         AttemptOutcome = "aborted"
	// outcomeContinuation is internal: the attempt was abandoned because a
	// continuation snapshot was captured.
	outcomeContinuation AttemptOutcome = "continuation"
)

// ErrNoCredits rejects a request before any provider call.
var ErrNoCredits = errors.New("insufficient credits for any step")

// ModelLogicError marks a failure of model or tool logic rather than
// provider infrastructure.
type ModelLogicError struct {
	Reason string
}

func (e *ModelLogicError) Error() string {
	return fmt.Sprintf("model logic error: %s", e.Reason)
}

// classifyAttemptError buckets an attempt error into the outcome taxonomy.
// Anything that is not an abort and not model/tool logic is treated as a
// provider infrastructure failure; the provider clients have already
// exhausted their own retries by the time an error reaches the loop.
func classifyAttemptError(err error) AttemptOutcome {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeAborted
	}
	var logicErr *ModelLogicError
	if errors.As(err, &logicErr) {
		return OutcomeModelLogicError
	}
	return OutcomeProviderError
}
