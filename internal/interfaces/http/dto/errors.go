package dto

import (
	"net/http"

	"github.com/entitlesync/engine/internal/domain/purchase"
)

// Transport-level error codes. Purchase failures use purchase.ErrorCode values.
const (
	ErrCodeInternal    = "ERR_INTERNAL"
	ErrCodeValidation  = "ERR_VALIDATION"
	ErrCodeBadRequest  = "ERR_BAD_REQUEST"
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	ErrCodeNotFound    = "ERR_NOT_FOUND"
	ErrCodeTimeout     = "ERR_TIMEOUT"
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:    http.StatusInternalServerError,
	ErrCodeValidation:  http.StatusBadRequest,
	ErrCodeBadRequest:  http.StatusBadRequest,
	ErrCodeInvalidJSON: http.StatusBadRequest,
	ErrCodeNotFound:    http.StatusNotFound,
	ErrCodeTimeout:     http.StatusGatewayTimeout,
	ErrCodeRateLimited: http.StatusTooManyRequests,

	string(purchase.ErrorCodeUnknown):                        http.StatusInternalServerError,
	string(purchase.ErrorCodePurchaseCancelled):              http.StatusConflict,
	string(purchase.ErrorCodeStoreProblem):                   http.StatusBadGateway,
	string(purchase.ErrorCodePurchaseInvalid):                http.StatusBadRequest,
	string(purchase.ErrorCodeProductNotAvailableForPurchase): http.StatusUnprocessableEntity,
	string(purchase.ErrorCodePaymentPending):                 http.StatusAccepted,
	string(purchase.ErrorCodeOperationAlreadyInProgress):     http.StatusConflict,
	string(purchase.ErrorCodeNetworkError):                   http.StatusServiceUnavailable,
	string(purchase.ErrorCodeInvalidCredentials):             http.StatusUnauthorized,
	string(purchase.ErrorCodeUnexpectedBackendResponse):      http.StatusBadGateway,
	string(purchase.ErrorCodeSignatureVerificationFailed):    http.StatusBadGateway,
	string(purchase.ErrorCodeCustomerInfo):                   http.StatusNotFound,
	string(purchase.ErrorCodeConfiguration):                  http.StatusInternalServerError,
	string(purchase.ErrorCodeOfflineUnavailable):             http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// NewPurchaseErrorResponse renders a purchase.Error with its flow metadata
func NewPurchaseErrorResponse(err *purchase.Error, requestID string) Response {
	finishable := err.Finishable
	return Response{
		Error: &ErrorInfo{
			Code:        string(err.Code),
			Message:     err.Message,
			RequestID:   requestID,
			Finishable:  &finishable,
			GeneratedBy: string(err.GeneratedBy),
			Context:     err.ExtraContext,
		},
	}
}
