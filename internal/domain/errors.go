package domain

// ErrorCategory is the closed set of failure classes surfaced to the UI.
type ErrorCategory string

const (
	ErrUserRejected      ErrorCategory = "USER_REJECTED"
	ErrNetworkMismatch   ErrorCategory = "NETWORK_MISMATCH"
	ErrAllowanceExceeded ErrorCategory = "ALLOWANCE_EXCEEDED"
	ErrBalanceExceeded   ErrorCategory = "BALANCE_EXCEEDED"
	ErrSaleLocked        ErrorCategory = "SALE_LOCKED"
	ErrGamePaused        ErrorCategory = "GAME_PAUSED"
	ErrUnknown           ErrorCategory = "UNKNOWN"
)

// ClassifiedError is a failure mapped to a category and a message fit for
// display. Only the classifier builds these.
type ClassifiedError struct {
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`
	cause    error
}

// NewClassifiedError builds a ClassifiedError wrapping the raw cause.
func NewClassifiedError(cat ErrorCategory, msg string, cause error) *ClassifiedError {
	return &ClassifiedError{Category: cat, Message: msg, cause: cause}
}

func (e *ClassifiedError) Error() string {
	if e.cause != nil {
		return string(e.Category) + ": " + e.Message + " (" + e.cause.Error() + ")"
	}
	return string(e.Category) + ": " + e.Message
}

func (e *ClassifiedError) Unwrap() error { return e.cause }

// Actionable reports whether the UI should offer an alternative to the user.
// Only a locked sale has one: joining the sell queue.
func (e *ClassifiedError) Actionable() bool {
	return e != nil && e.Category == ErrSaleLocked
}

// Is lets errors.Is match on category alone.
func (e *ClassifiedError) Is(target error) bool {
	t, ok := target.(*ClassifiedError)
	if !ok {
		return false
	}
	return t.Category == e.Category && (t.Message == "" || t.Message == e.Message)
}
