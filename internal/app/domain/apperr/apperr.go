// Package apperr defines the structured error taxonomy shared by all
// services. Components return these; boundaries translate them to external
// representations.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and boundary mapping.
type Kind int

const (
	// KindInput marks a malformed or invalid argument.
	KindInput Kind = iota
	// KindState marks a precondition that was not met.
	KindState
	// KindNotFound marks an absent entity.
	KindNotFound
	// KindForbidden marks an ownership or permission mismatch.
	KindForbidden
	// KindCapacity marks an exhausted quota, pool or stock.
	KindCapacity
	// KindConflict marks an optimistic-concurrency or unique-index collision.
	KindConflict
	// KindExternal marks a capability failure; may be transient.
	KindExternal
	// KindFatal marks a violated invariant.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindState:
		return "state"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindCapacity:
		return "capacity"
	case KindConflict:
		return "conflict"
	case KindExternal:
		return "external"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Stable error codes surfaced to API consumers.
const (
	CodeActiveSessionExists   = "ACTIVE_SESSION_EXISTS"
	CodeDailyLimitReached     = "DAILY_LIMIT_REACHED"
	CodeCooldownActive        = "COOLDOWN_ACTIVE"
	CodeInsufficientQuestions = "INSUFFICIENT_QUESTIONS"
	CodeSessionNotFound       = "SESSION_NOT_FOUND"
	CodeSessionNotActive      = "SESSION_NOT_ACTIVE"
	CodeWrongQuestionIndex    = "WRONG_QUESTION_INDEX"
	CodeAnswerTimeout         = "ANSWER_TIMEOUT"
	CodeInvalidOption         = "INVALID_OPTION"
	CodeEligibilityNotFound   = "ELIGIBILITY_NOT_FOUND"
	CodeEligibilityExpired    = "ELIGIBILITY_EXPIRED"
	CodeEligibilityUsed       = "ELIGIBILITY_ALREADY_USED"
	CodeNoStock               = "NO_STOCK"
	CodeInvalidForgeSet       = "INVALID_FORGE_SET"
	CodeOwnershipMismatch     = "OWNERSHIP_MISMATCH"
	CodeStakeRequired         = "STAKE_REQUIRED"
	CodeInvalidAssetName      = "INVALID_ASSET_NAME"
	CodeOperationNotFound     = "OPERATION_NOT_FOUND"
	CodeSeasonNotFound        = "SEASON_NOT_FOUND"
)

// Error is a classified error with a stable code.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retriable bool
	wrapped   error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Code, e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s (%s): %s", e.Code, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// New builds a classified error.
func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Newf builds a classified error with a formatted message.
func Newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, wrapped: err}
}

// External marks a capability failure; transient controls whether the
// workflow engine retries it.
func External(msg string, transient bool, err error) *Error {
	return &Error{Kind: KindExternal, Code: "EXTERNAL", Message: msg, Retriable: transient, wrapped: err}
}

// KindOf extracts the kind of err, or KindFatal for unclassified errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindFatal
}

// CodeOf extracts the stable code of err, empty when unclassified.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// IsRetriable reports whether err is a transient capability failure.
func IsRetriable(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Retriable
}
