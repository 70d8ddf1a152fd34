package shared

import "errors"

// DomainError is a rule violation with a stable machine-readable code.
// Errors compare equal under errors.Is when their codes match.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is reports whether target is a DomainError with the same code
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	return errors.As(target, &t) && t.Code == e.Code
}

// NewDomainError creates a DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

var (
	ErrNotFound     = NewDomainError("NOT_FOUND", "not found")
	ErrInvalidInput = NewDomainError("INVALID_INPUT", "invalid input")
	ErrInvalidState = NewDomainError("INVALID_STATE", "operation not allowed in current state")
)
