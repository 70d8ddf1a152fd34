package purchase

import (
	"context"
	"errors"
	"fmt"

	"github.com/entitlesync/engine/internal/domain/attribute"
)

// ErrorCode classifies purchase-flow failures for callers
type ErrorCode string

const (
	ErrorCodeUnknown                        ErrorCode = "UNKNOWN"
	ErrorCodePurchaseCancelled              ErrorCode = "PURCHASE_CANCELLED"
	ErrorCodeStoreProblem                   ErrorCode = "STORE_PROBLEM"
	ErrorCodePurchaseInvalid                ErrorCode = "PURCHASE_INVALID"
	ErrorCodeProductNotAvailableForPurchase ErrorCode = "PRODUCT_NOT_AVAILABLE_FOR_PURCHASE"
	ErrorCodePaymentPending                 ErrorCode = "PAYMENT_PENDING"
	ErrorCodeOperationAlreadyInProgress     ErrorCode = "OPERATION_ALREADY_IN_PROGRESS"
	ErrorCodeNetworkError                   ErrorCode = "NETWORK_ERROR"
	ErrorCodeInvalidCredentials             ErrorCode = "INVALID_CREDENTIALS"
	ErrorCodeUnexpectedBackendResponse      ErrorCode = "UNEXPECTED_BACKEND_RESPONSE"
	ErrorCodeSignatureVerificationFailed    ErrorCode = "SIGNATURE_VERIFICATION_FAILED"
	ErrorCodeCustomerInfo                   ErrorCode = "CUSTOMER_INFO_ERROR"
	ErrorCodeConfiguration                  ErrorCode = "CONFIGURATION_ERROR"
	ErrorCodeOfflineUnavailable             ErrorCode = "OFFLINE_ENTITLEMENTS_UNAVAILABLE"
)

// Source names the component that produced an error
type Source string

const (
	SourceCoordinator Source = "coordinator"
	SourceStore       Source = "store"
	SourceBackend     Source = "backend"
	SourcePoster      Source = "transaction_poster"
	SourceOffline     Source = "offline_entitlements"
)

// Error is the structured error surfaced to callers of the purchase flow
type Error struct {
	Code         ErrorCode         `json:"code"`
	Message      string            `json:"message"`
	Finishable   bool              `json:"finishable"`
	GeneratedBy  Source            `json:"generated_by,omitempty"`
	ExtraContext map[string]string `json:"extra_context,omitempty"`
	Cause        error             `json:"-"`
}

// NewError creates an Error with the given code and message
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error for code caused by err. Finishable is inherited from
// a BackendError in the chain.
func Wrap(code ErrorCode, source Source, err error) *Error {
	e := &Error{Code: code, GeneratedBy: source, Cause: err}
	if err != nil {
		e.Message = err.Error()
	}
	var be *BackendError
	if errors.As(err, &be) {
		e.Finishable = be.Finishable
	}
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches against another *Error by code, so sentinels work with errors.Is
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) && t.Cause == nil && t.Message == "" {
		return t.Code == e.Code
	}
	return false
}

// WithContext returns a copy with an extra context entry
func (e *Error) WithContext(key, value string) *Error {
	out := *e
	out.ExtraContext = make(map[string]string, len(e.ExtraContext)+1)
	for k, v := range e.ExtraContext {
		out.ExtraContext[k] = v
	}
	out.ExtraContext[key] = value
	return &out
}

// Sentinels for errors.Is matching by code
var (
	ErrOperationAlreadyInProgress     = &Error{Code: ErrorCodeOperationAlreadyInProgress}
	ErrProductNotAvailableForPurchase = &Error{Code: ErrorCodeProductNotAvailableForPurchase}
	ErrPaymentPending                 = &Error{Code: ErrorCodePaymentPending}
	ErrStoreProblem                   = &Error{Code: ErrorCodeStoreProblem}
	ErrNetwork                        = &Error{Code: ErrorCodeNetworkError}
	ErrOfflineUnavailable             = &Error{Code: ErrorCodeOfflineUnavailable}
)

// BackendErrorKind classifies a failed backend call
type BackendErrorKind string

const (
	// Outage-class kinds: eligible for offline fallback
	KindOffline    BackendErrorKind = "offline"
	KindTimeout    BackendErrorKind = "timeout"
	KindTransport  BackendErrorKind = "transport"
	KindServerDown BackendErrorKind = "server_down"

	// Semantic kinds: never fall back
	KindErrorResponse         BackendErrorKind = "error_response"
	KindNotFound              BackendErrorKind = "not_found"
	KindDecoding              BackendErrorKind = "decoding"
	KindSignatureVerification BackendErrorKind = "signature_verification"
)

// BackendError is a failed call to the entitlement backend
type BackendError struct {
	Kind       BackendErrorKind `json:"kind"`
	StatusCode int              `json:"status_code,omitempty"`
	// BackendCode is the numeric error code from the response body, if any
	BackendCode     int               `json:"backend_code,omitempty"`
	Message         string            `json:"message"`
	Finishable      bool              `json:"finishable"`
	AttributeErrors []attribute.Error `json:"attribute_errors,omitempty"`
	Cause           error             `json:"-"`
}

// Error implements the error interface
func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend %s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause
func (e *BackendError) Unwrap() error {
	return e.Cause
}

// IsOutage reports whether the failure is network or server-down class
func (e *BackendError) IsOutage() bool {
	switch e.Kind {
	case KindOffline, KindTimeout, KindTransport, KindServerDown:
		return true
	}
	return false
}

// Code maps the failure onto the caller-facing ErrorCode
func (e *BackendError) Code() ErrorCode {
	switch e.Kind {
	case KindOffline, KindTimeout, KindTransport, KindServerDown:
		return ErrorCodeNetworkError
	case KindSignatureVerification:
		return ErrorCodeSignatureVerificationFailed
	case KindDecoding:
		return ErrorCodeUnexpectedBackendResponse
	case KindNotFound:
		return ErrorCodeCustomerInfo
	}
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return ErrorCodeInvalidCredentials
	}
	return ErrorCodeUnknown
}

// IsFinishableStatus reports whether a response status tells the client the
// transaction can be finished without being retried
func IsFinishableStatus(status int) bool {
	return status > 0 && status < 500 && status != 404
}

// IsOutage reports whether err carries an outage-class BackendError or a deadline
func IsOutage(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return be.IsOutage()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsFinishable reports whether err allows finishing the transaction
func IsFinishable(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Finishable
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Finishable
	}
	return false
}
