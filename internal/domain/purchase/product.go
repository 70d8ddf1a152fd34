package purchase

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ProductType is the store category of a product
type ProductType string

const (
	ProductTypeSubscription  ProductType = "subscription"
	ProductTypeNonConsumable ProductType = "non_consumable"
	ProductTypeConsumable    ProductType = "consumable"
)

// StoreProduct is a product as offered by the storefront
type StoreProduct struct {
	ID           string          `json:"id"`
	Type         ProductType     `json:"type"`
	Title        string          `json:"title,omitempty"`
	Price        decimal.Decimal `json:"price"`
	CurrencyCode string          `json:"currency_code"`
	// SubscriptionPeriod is an ISO 8601 duration such as P1M, empty for one-time products
	SubscriptionPeriod string `json:"subscription_period,omitempty"`
}

// IsSubscription returns true for auto-renewing products
func (p StoreProduct) IsSubscription() bool {
	return p.Type == ProductTypeSubscription
}

// Validate checks the product can be handed to a store adapter
func (p StoreProduct) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return NewError(ErrorCodeProductNotAvailableForPurchase, "product id must not be empty")
	}
	if p.Price.IsNegative() {
		return NewError(ErrorCodePurchaseInvalid, "product price must not be negative")
	}
	return nil
}

// Params carries optional purchase context forwarded to the backend with the receipt
type Params struct {
	PresentedOfferingID string `json:"presented_offering_id,omitempty"`
	PlacementID         string `json:"placement_id,omitempty"`
}
