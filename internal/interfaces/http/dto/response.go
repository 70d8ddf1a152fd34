package dto

// Response is the envelope every sidecar endpoint returns
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo describes a failed request. Purchase failures also carry the
// finishable flag and the component that produced them.
type ErrorInfo struct {
	Code        string             `json:"code"`
	Message     string             `json:"message"`
	RequestID   string             `json:"request_id,omitempty"`
	Finishable  *bool              `json:"finishable,omitempty"`
	GeneratedBy string             `json:"generated_by,omitempty"`
	Context     map[string]string  `json:"context,omitempty"`
	Details     []ValidationDetail `json:"details,omitempty"`
}

// ValidationDetail is one rejected field
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data any) Response {
	return Response{Success: true, Data: data}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message, requestID string) Response {
	return Response{
		Error: &ErrorInfo{Code: code, Message: message, RequestID: requestID},
	}
}

// NewValidationErrorResponse creates a validation error response
func NewValidationErrorResponse(message, requestID string, details []ValidationDetail) Response {
	return Response{
		Error: &ErrorInfo{
			Code:      ErrCodeValidation,
			Message:   message,
			RequestID: requestID,
			Details:   details,
		},
	}
}
