package steward

import (
	stderrors "errors"

	apperrors "github.com/goliatone/go-errors"
)

// Stable text codes shared across packages.
const (
	ErrCodeMissingSagaID    = "STEWARD_MISSING_SAGA_ID"
	ErrCodeRetriesExhausted = "STEWARD_RETRIES_EXHAUSTED"
	ErrCodeCancelled        = "STEWARD_EXECUTION_CANCELLED"
	ErrCodeNondeterminism   = "STEWARD_NONDETERMINISM"
	ErrCodeRecordConflict   = "STEWARD_RECORD_CONFLICT"
	ErrCodeUnknownWorkflow  = "STEWARD_UNKNOWN_WORKFLOW"
	ErrCodeUnknownChannel   = "STEWARD_UNKNOWN_CHANNEL"
)

var (
	// ErrMissingSagaID rejects a supervise request without a saga id.
	ErrMissingSagaID = apperrors.New("saga id required", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeMissingSagaID)

	// ErrRetriesExhausted is the terminal failure an activity returns once
	// its retry policy is spent.
	ErrRetriesExhausted = apperrors.New("activity retries exhausted", apperrors.CategoryExternal).
				WithTextCode(ErrCodeRetriesExhausted)

	// ErrCancelled marks a cooperative cancellation observed at a workflow
	// suspension point. It is not treated as a fault.
	ErrCancelled = apperrors.New("execution cancelled", apperrors.CategoryHandler).
			WithTextCode(ErrCodeCancelled)

	// ErrNondeterminism indicates replayed workflow code diverged from its
	// recorded history.
	ErrNondeterminism = apperrors.New("workflow history diverged from code", apperrors.CategoryHandler).
				WithTextCode(ErrCodeNondeterminism)

	// ErrRecordConflict indicates an oversight record write violated the
	// running-to-terminal transition invariant.
	ErrRecordConflict = apperrors.New("oversight record transition conflict", apperrors.CategoryConflict).
				WithTextCode(ErrCodeRecordConflict)
)

// ErrorCode extracts the text code from a wrapped error, or "".
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// IsRetriesExhausted reports whether err is a spent retry policy.
func IsRetriesExhausted(err error) bool {
	return ErrorCode(err) == ErrCodeRetriesExhausted
}

// IsCancelled reports whether err is a cooperative cancellation.
func IsCancelled(err error) bool {
	return ErrorCode(err) == ErrCodeCancelled
}
