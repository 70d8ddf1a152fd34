package customer

import "time"

// SubscriptionMetadata is the subscription part of a locally observed purchase
type SubscriptionMetadata struct {
	ExpirationDate *time.Time    `json:"expiration_date,omitempty"`
	PeriodType     PeriodType    `json:"period_type"`
	WillRenew      bool          `json:"will_renew"`
	OwnershipType  OwnershipType `json:"ownership_type"`
}

// PurchasedProduct is a purchase the local store reports as currently owned
type PurchasedProduct struct {
	ProductID     string                `json:"product_id"`
	TransactionID string                `json:"transaction_id"`
	PurchaseDate  time.Time             `json:"purchase_date"`
	Store         Store                 `json:"store"`
	IsSandbox     bool                  `json:"is_sandbox"`
	Subscription  *SubscriptionMetadata `json:"subscription,omitempty"`
	// EntitlementHints are entitlement ids the store itself attached to the purchase
	EntitlementHints []string `json:"entitlement_hints,omitempty"`
}

// IsSubscription returns true if the purchase carries subscription metadata
func (p PurchasedProduct) IsSubscription() bool {
	return p.Subscription != nil
}
