package handler

import (
	"context"

	"github.com/entitlesync/engine/internal/application/customerinfo"
	"github.com/entitlesync/engine/internal/domain/attribute"
	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// CustomerInfoService reads customer info under a fetch policy
type CustomerInfoService interface {
	CustomerInfo(ctx context.Context, appUserID string, policy customerinfo.FetchPolicy) (customer.CustomerInfo, error)
}

// AttributeService stores and pushes subscriber attributes
type AttributeService interface {
	SetAttributes(ctx context.Context, appUserID string, values map[string]string) error
	Attributes(ctx context.Context, appUserID string) (attribute.Set, error)
	Sync(ctx context.Context, appUserID string) error
}

// CustomerHandler handles customer info and subscriber attribute endpoints
type CustomerHandler struct {
	BaseHandler
	customers  CustomerInfoService
	attributes AttributeService
}

// NewCustomerHandler creates a new CustomerHandler
func NewCustomerHandler(customers CustomerInfoService, attributes AttributeService) *CustomerHandler {
	return &CustomerHandler{customers: customers, attributes: attributes}
}

// GetCustomerInfo handles GET /customers/:app_user_id?policy=
func (h *CustomerHandler) GetCustomerInfo(c *gin.Context) {
	var query dto.CustomerInfoQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.BindError(c, err)
		return
	}

	info, err := h.customers.CustomerInfo(c.Request.Context(), c.Param("app_user_id"), customerinfo.ParseFetchPolicy(query.Policy))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, info)
}

// GetAttributes handles GET /customers/:app_user_id/attributes
func (h *CustomerHandler) GetAttributes(c *gin.Context) {
	appUserID := c.Param("app_user_id")
	set, err := h.attributes.Attributes(c.Request.Context(), appUserID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewAttributesResponse(appUserID, set))
}

// SetAttributes handles PUT /customers/:app_user_id/attributes. Values are
// stored unsynced; with sync_now the batch is pushed before responding and a
// push failure is reported alongside the stored values.
func (h *CustomerHandler) SetAttributes(c *gin.Context) {
	var req dto.AttributesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	ctx := c.Request.Context()
	appUserID := c.Param("app_user_id")
	if err := h.attributes.SetAttributes(ctx, appUserID, req.Attributes); err != nil {
		h.HandleError(c, err)
		return
	}

	var syncErr error
	if req.SyncNow {
		syncErr = h.attributes.Sync(ctx, appUserID)
	}

	set, err := h.attributes.Attributes(ctx, appUserID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	resp := dto.NewAttributesResponse(appUserID, set)
	if syncErr != nil {
		resp.SyncError = syncErr.Error()
	}
	h.Success(c, resp)
}

// RegisterRoutes mounts the customer endpoints
func (h *CustomerHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/customers/:app_user_id")
	g.GET("", h.GetCustomerInfo)
	g.GET("/attributes", h.GetAttributes)
	g.PUT("/attributes", h.SetAttributes)
}
