package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/entitlesync/engine/internal/application/customerinfo"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/entitlesync/engine/internal/interfaces/http/dto"
	"github.com/entitlesync/engine/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := middleware.SetupValidator(); err != nil {
		panic(err)
	}
}

type registrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

func newTestEngine(handlers ...registrar) *gin.Engine {
	engine := gin.New()
	api := engine.Group("/v1")
	for _, h := range handlers {
		h.RegisterRoutes(api)
	}
	return engine
}

func doJSON(t *testing.T, engine *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, dto.Response) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

func TestBaseHandler_HandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"purchase error", purchase.NewError(purchase.ErrorCodeOperationAlreadyInProgress, "busy"), http.StatusConflict, "OPERATION_ALREADY_IN_PROGRESS"},
		{"wrapped purchase error", errors.Join(errors.New("ctx"), purchase.NewError(purchase.ErrorCodePaymentPending, "pending")), http.StatusAccepted, "PAYMENT_PENDING"},
		{"backend outage", &purchase.BackendError{Kind: purchase.KindServerDown, StatusCode: 503}, http.StatusServiceUnavailable, "NETWORK_ERROR"},
		{"backend credentials", &purchase.BackendError{Kind: purchase.KindErrorResponse, StatusCode: 401, Finishable: true}, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"not cached", customerinfo.ErrNotCached, http.StatusNotFound, dto.ErrCodeNotFound},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, dto.ErrCodeTimeout},
		{"domain error", shared.ErrInvalidState, http.StatusUnprocessableEntity, "INVALID_STATE"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, dto.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &BaseHandler{}
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			c.Set("request_id", "req-1")

			h.HandleError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp dto.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, "req-1", resp.Error.RequestID)
		})
	}
}

func TestBaseHandler_BackendErrorKeepsFinishable(t *testing.T) {
	h := &BaseHandler{}
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	h.HandleError(c, &purchase.BackendError{Kind: purchase.KindErrorResponse, StatusCode: 403, Finishable: true})

	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error.Finishable)
	assert.True(t, *resp.Error.Finishable)
	assert.Equal(t, string(purchase.SourceBackend), resp.Error.GeneratedBy)
}
