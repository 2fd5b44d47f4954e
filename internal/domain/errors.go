package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrPreviewRequired = errors.New("preview confirmation required")
	ErrRateLimited     = errors.New("rate limit exceeded")

	// ErrTaskExecution marks asynchronous generation failures. It is never
	// returned from request validation.
	ErrTaskExecution = errors.New("task execution failure")
)

// Resolver errors. Every one of them wraps ErrValidation.
var (
	ErrInvalidCount        = fmt.Errorf("%w: invalid count", ErrValidation)
	ErrInvalidLength       = fmt.Errorf("%w: invalid code length", ErrValidation)
	ErrAffixTooLong        = fmt.Errorf("%w: affix too long", ErrValidation)
	ErrNoSpaceForCode      = fmt.Errorf("%w: no space for code", ErrAffixTooLong)
	ErrNegativeComposition = fmt.Errorf("%w: negative composition", ErrValidation)
	ErrCompositionOverflow = fmt.Errorf("%w: composition overflow", ErrValidation)
	ErrInvalidLetterCase   = fmt.Errorf("%w: invalid letter case", ErrValidation)
)

// ErrorCode returns the wire code for err, or an empty string when err is
// not a known domain error. More specific errors are checked first.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCount):
		return "INVALID_COUNT"
	case errors.Is(err, ErrInvalidLength):
		return "INVALID_LENGTH"
	case errors.Is(err, ErrNoSpaceForCode):
		return "NO_SPACE_FOR_CODE"
	case errors.Is(err, ErrAffixTooLong):
		return "AFFIX_TOO_LONG"
	case errors.Is(err, ErrNegativeComposition):
		return "NEGATIVE_COMPOSITION"
	case errors.Is(err, ErrCompositionOverflow):
		return "COMPOSITION_OVERFLOW"
	case errors.Is(err, ErrInvalidLetterCase):
		return "INVALID_LETTER_CASE"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_FAILED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrPreviewRequired):
		return "PREVIEW_REQUIRED"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrTaskExecution):
		return "TASK_EXECUTION_FAILURE"
	}
	return ""
}
