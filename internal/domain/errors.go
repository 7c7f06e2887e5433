package domain

import "errors"

// Validation errors are returned before any state is touched.
var (
	// ErrValidation wraps every malformed-input rejection.
	ErrValidation = errors.New("validation failed")
)

// Business-rule errors. Surfaced verbatim, never retried automatically.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSlippageExceeded    = errors.New("slippage exceeded")
	ErrExceedsCap          = errors.New("trade exceeds supply cap")
	ErrExceedsSupply       = errors.New("sell exceeds tokens sold")
	ErrAlreadyGraduated    = errors.New("agent already graduated")
	ErrIdempotencyConflict = errors.New("idempotency key reused with different parameters")
	ErrNothingToClaim      = errors.New("nothing to claim")
	ErrBeneficiaryMismatch = errors.New("beneficiary does not own schedule")
)

// Transient infrastructure errors.
var (
	// ErrStorageConflict means the write was rejected entirely and is safe to retry.
	ErrStorageConflict = errors.New("storage conflict")

	// ErrRetriesExhausted wraps the last transient error after the retry budget is spent.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// Invariant violations. Fatal for the affected agent or schedule.
var (
	ErrInvariantViolation = errors.New("invariant violation")
	ErrAgentHalted        = errors.New("agent halted pending reconciliation")
	ErrScheduleHalted     = errors.New("vesting schedule halted pending reconciliation")
)

// Kind classifies an error for callers deciding between "invalid" and "try again".
type Kind string

// Error kinds
const (
	KindNone       Kind = ""
	KindValidation Kind = "validation"
	KindBusiness   Kind = "business"
	KindTransient  Kind = "transient"
	KindExhausted  Kind = "retries_exhausted"
	KindInvariant  Kind = "invariant"
	KindInternal   Kind = "internal"
)

var businessErrors = []error{
	ErrInsufficientBalance,
	ErrSlippageExceeded,
	ErrExceedsCap,
	ErrExceedsSupply,
	ErrAlreadyGraduated,
	ErrIdempotencyConflict,
	ErrNothingToClaim,
	ErrBeneficiaryMismatch,
}

// Classify maps err onto the error taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	// Exhausted wraps the conflict, check it first.
	if errors.Is(err, ErrRetriesExhausted) {
		return KindExhausted
	}
	if errors.Is(err, ErrStorageConflict) {
		return KindTransient
	}
	if errors.Is(err, ErrInvariantViolation) || errors.Is(err, ErrAgentHalted) || errors.Is(err, ErrScheduleHalted) {
		return KindInvariant
	}
	if errors.Is(err, ErrValidation) {
		return KindValidation
	}
	for _, b := range businessErrors {
		if errors.Is(err, b) {
			return KindBusiness
		}
	}
	return KindInternal
}

// IsRetryable reports whether err may be retried automatically.
func IsRetryable(err error) bool {
	return Classify(err) == KindTransient
}
