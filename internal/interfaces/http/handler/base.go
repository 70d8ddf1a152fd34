package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/entitlesync/engine/internal/application/customerinfo"
	"github.com/entitlesync/engine/internal/domain/attribute"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/entitlesync/engine/internal/infrastructure/logger"
	"github.com/entitlesync/engine/internal/interfaces/http/dto"
	"github.com/entitlesync/engine/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

func getRequestID(c *gin.Context) string {
	if id := c.GetString("request_id"); id != "" {
		return id
	}
	return c.GetHeader(logger.RequestIDHeader)
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Error sends an error response with the given status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponse(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// BindError answers a failed ShouldBind*: field errors become a validation
// response, anything else is a malformed body
func (h *BaseHandler) BindError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		middleware.HandleValidationError(c, err)
		return
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Request body is not valid JSON")
		return
	}
	h.BadRequest(c, err.Error())
}

// HandleError converts engine errors to HTTP responses
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	h.HandleErrorWithData(c, err, nil)
}

// HandleErrorWithData is HandleError for operations that still produce a
// payload when they fail, such as a purchase that returns the best available
// customer info. data is rendered next to the error when non-nil.
func (h *BaseHandler) HandleErrorWithData(c *gin.Context, err error, data any) {
	if err == nil {
		return
	}
	requestID := getRequestID(c)
	_ = c.Error(err)

	respond := func(status int, resp dto.Response) {
		resp.Data = data
		c.JSON(status, resp)
	}
	fail := func(status int, code, message string) {
		respond(status, dto.NewErrorResponse(code, message, requestID))
	}

	var purchaseErr *purchase.Error
	if errors.As(err, &purchaseErr) {
		respond(dto.GetHTTPStatus(string(purchaseErr.Code)), dto.NewPurchaseErrorResponse(purchaseErr, requestID))
		return
	}

	var backendErr *purchase.BackendError
	if errors.As(err, &backendErr) {
		respond(dto.GetHTTPStatus(string(backendErr.Code())),
			dto.NewPurchaseErrorResponse(purchase.Wrap(backendErr.Code(), purchase.SourceBackend, backendErr), requestID))
		return
	}

	switch {
	case errors.Is(err, customerinfo.ErrNotCached):
		fail(http.StatusNotFound, dto.ErrCodeNotFound, "No customer info cached for this app user")
		return
	case errors.Is(err, attribute.ErrEmptyKey), errors.Is(err, attribute.ErrReservedKey):
		fail(http.StatusBadRequest, dto.ErrCodeValidation, err.Error())
		return
	case errors.Is(err, context.DeadlineExceeded):
		fail(http.StatusGatewayTimeout, dto.ErrCodeTimeout, "Request timed out")
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		fail(http.StatusUnprocessableEntity, domainErr.Code, domainErr.Message)
		return
	}

	logger.FromGin(c).Error("Unhandled request error", zap.Error(err))
	fail(http.StatusInternalServerError, dto.ErrCodeInternal, "An unexpected error occurred")
}
