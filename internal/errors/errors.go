package errors

import "fmt"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeValidation        = "E100"
	CodeDatabase          = "E200"
	CodeExternalAPI       = "E300"
	CodeDelivery          = "E310"
	CodeState             = "E400"
	CodeTagConflict       = "E410"
	CodeRateLimit         = "E500"
	CodeMetadataInvariant = "E600"
)

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	cause       error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     msg,
		UserMessage: fmt.Sprintf("Invalid request. %s", msg),
		Severity:    SeverityLow,
		Retryable:   false,
	}
}

func NewDatabaseError(cause error) *AppError {
	return &AppError{
		Code:        CodeDatabase,
		Message:     "database error",
		UserMessage: "Temporary problem, try again later",
		Severity:    SeverityHigh,
		Retryable:   true,
		cause:       cause,
	}
}

func NewExternalAPIError(apiName string, cause error) *AppError {
	return &AppError{
		Code:        CodeExternalAPI,
		Message:     fmt.Sprintf("external API error: %s", apiName),
		UserMessage: "Service temporarily unavailable",
		Severity:    SeverityMedium,
		Retryable:   true,
		cause:       cause,
	}
}

// NewDeliveryError wraps a rejected push delivery for a single user.
func NewDeliveryError(userID int64, cause error) *AppError {
	return &AppError{
		Code:      CodeDelivery,
		Message:   fmt.Sprintf("push delivery to user %d failed", userID),
		Severity:  SeverityLow,
		Retryable: true,
		cause:     cause,
	}
}

func NewStateError(msg string) *AppError {
	return &AppError{
		Code:        CodeState,
		Message:     msg,
		UserMessage: "Operation is not possible in the current state",
		Severity:    SeverityMedium,
		Retryable:   false,
	}
}

// NewTagConflictError reports a tag-back write whose guard rejected the matched count.
func NewTagConflictError(target string, expected, matched int) *AppError {
	return &AppError{
		Code:      CodeTagConflict,
		Message:   fmt.Sprintf("tag %s conflict: expected %d rows, matched %d", target, expected, matched),
		Severity:  SeverityLow,
		Retryable: false,
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        CodeRateLimit,
		Message:     fmt.Sprintf("rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("Too many requests. Try again in %d seconds", retryAfter),
		Severity:    SeverityLow,
		Retryable:   false,
	}
}

// NewMetadataInvariantError reports a metadata cursor that cannot be advanced consistently.
func NewMetadataInvariantError(msg string, cause error) *AppError {
	return &AppError{
		Code:      CodeMetadataInvariant,
		Message:   fmt.Sprintf("metadata invariant violated: %s", msg),
		Severity:  SeverityCritical,
		Retryable: false,
		cause:     cause,
	}
}
