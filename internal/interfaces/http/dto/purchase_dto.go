package dto

import (
	"strings"

	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/shopspring/decimal"
)

// PurchaseRequest starts a purchase for the current app user
type PurchaseRequest struct {
	ProductID          string          `json:"product_id" binding:"required,max=255"`
	Type               string          `json:"type" binding:"omitempty,oneof=subscription non_consumable consumable"`
	Title              string          `json:"title" binding:"max=255"`
	Price              decimal.Decimal `json:"price"`
	CurrencyCode       string          `json:"currency_code" binding:"omitempty,currency"`
	SubscriptionPeriod string          `json:"subscription_period" binding:"max=32"`

	PresentedOfferingID string `json:"presented_offering_id" binding:"max=255"`
	PlacementID         string `json:"placement_id" binding:"max=255"`
}

// Product returns the store product the request describes
func (r PurchaseRequest) Product() purchase.StoreProduct {
	productType := purchase.ProductType(r.Type)
	if productType == "" {
		productType = purchase.ProductTypeNonConsumable
		if r.SubscriptionPeriod != "" {
			productType = purchase.ProductTypeSubscription
		}
	}
	return purchase.StoreProduct{
		ID:                 strings.TrimSpace(r.ProductID),
		Type:               productType,
		Title:              r.Title,
		Price:              r.Price,
		CurrencyCode:       strings.ToUpper(strings.TrimSpace(r.CurrencyCode)),
		SubscriptionPeriod: r.SubscriptionPeriod,
	}
}

// Params returns the purchase context forwarded with the receipt
func (r PurchaseRequest) Params() purchase.Params {
	return purchase.Params{
		PresentedOfferingID: r.PresentedOfferingID,
		PlacementID:         r.PlacementID,
	}
}

// CancelPurchaseResponse reports whether a store interaction was aborted
type CancelPurchaseResponse struct {
	ProductID string `json:"product_id"`
	Cancelled bool   `json:"cancelled"`
}

// InFlightResponse lists products currently being purchased
type InFlightResponse struct {
	Route    string   `json:"route"`
	Products []string `json:"products"`
}
