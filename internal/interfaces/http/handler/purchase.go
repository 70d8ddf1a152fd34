package handler

import (
	"context"
	"net/http"

	"github.com/entitlesync/engine/internal/application/purchasing"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/entitlesync/engine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// PurchaseService is the purchase surface the handler drives
type PurchaseService interface {
	Purchase(ctx context.Context, product purchase.StoreProduct, params purchase.Params) (purchasing.Result, error)
	CancelPurchase(productID string) bool
	InFlight() []string
	Route() purchasing.RouteKind
}

// PurchaseHandler handles purchase endpoints
type PurchaseHandler struct {
	BaseHandler
	purchases PurchaseService
}

// NewPurchaseHandler creates a new PurchaseHandler
func NewPurchaseHandler(purchases PurchaseService) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases}
}

// Purchase handles POST /purchases. It blocks until the purchase settles.
// A user cancellation is a successful response with user_cancelled set. A
// failure still carries the customer info and, once the store approved the
// purchase, the transaction.
func (h *PurchaseHandler) Purchase(c *gin.Context) {
	var req dto.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	result, err := h.purchases.Purchase(c.Request.Context(), req.Product(), req.Params())
	if err != nil {
		h.HandleErrorWithData(c, err, result)
		return
	}
	if result.Transaction != nil {
		c.JSON(http.StatusCreated, dto.NewSuccessResponse(result))
		return
	}
	h.Success(c, result)
}

// Cancel handles DELETE /purchases/:product_id
func (h *PurchaseHandler) Cancel(c *gin.Context) {
	productID := c.Param("product_id")
	if !h.purchases.CancelPurchase(productID) {
		h.NotFound(c, "No purchase in flight for this product")
		return
	}
	h.Success(c, dto.CancelPurchaseResponse{ProductID: productID, Cancelled: true})
}

// InFlight handles GET /purchases
func (h *PurchaseHandler) InFlight(c *gin.Context) {
	products := h.purchases.InFlight()
	if products == nil {
		products = []string{}
	}
	h.Success(c, dto.InFlightResponse{Route: string(h.purchases.Route()), Products: products})
}

// RegisterRoutes mounts the purchase endpoints
func (h *PurchaseHandler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/purchases")
	g.POST("", h.Purchase)
	g.GET("", h.InFlight)
	g.DELETE("/:product_id", h.Cancel)
}
