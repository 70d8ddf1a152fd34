package customer

import (
	"sort"
	"time"

	"github.com/google/go-cmp/cmp"
)

// SubscriptionInfo describes the latest known state of one subscription product
type SubscriptionInfo struct {
	ProductIdentifier      string        `json:"product_identifier"`
	PurchaseDate           time.Time     `json:"purchase_date"`
	OriginalPurchaseDate   *time.Time    `json:"original_purchase_date,omitempty"`
	ExpiresDate            *time.Time    `json:"expires_date,omitempty"`
	Store                  Store         `json:"store"`
	IsSandbox              bool          `json:"is_sandbox"`
	UnsubscribeDetectedAt  *time.Time    `json:"unsubscribe_detected_at,omitempty"`
	BillingIssueDetectedAt *time.Time    `json:"billing_issue_detected_at,omitempty"`
	PeriodType             PeriodType    `json:"period_type"`
	OwnershipType          OwnershipType `json:"ownership_type"`
	IsActive               bool          `json:"is_active"`
	WillRenew              bool          `json:"will_renew"`
}

// NonSubscriptionTransaction is a one-time purchase
type NonSubscriptionTransaction struct {
	TransactionIdentifier string    `json:"transaction_identifier"`
	ProductIdentifier     string    `json:"product_identifier"`
	PurchaseDate          time.Time `json:"purchase_date"`
	Store                 Store     `json:"store"`
	IsSandbox             bool      `json:"is_sandbox"`
}

// CustomerInfo is the authoritative per-user purchase and entitlement snapshot.
// Values are immutable once built; the With* helpers return modified copies.
type CustomerInfo struct {
	AppUserID         string                       `json:"app_user_id"`
	OriginalAppUserID string                       `json:"original_app_user_id"`
	RequestDate       time.Time                    `json:"request_date"`
	FirstSeen         time.Time                    `json:"first_seen"`
	Entitlements      EntitlementInfos             `json:"entitlements"`
	Subscriptions     map[string]SubscriptionInfo  `json:"subscriptions"`
	NonSubscriptions  []NonSubscriptionTransaction `json:"non_subscriptions"`
	ManagementURL     string                       `json:"management_url,omitempty"`
	Verification      VerificationResult           `json:"verification"`
	Origin            Origin                       `json:"origin"`
}

// IsComputedOffline returns true if the value was computed locally during a backend outage
func (c CustomerInfo) IsComputedOffline() bool {
	return c.Origin == OriginOfflineEntitlements
}

// IsLoadedFromCache returns true if the value was read back from the device cache
func (c CustomerInfo) IsLoadedFromCache() bool {
	return c.Origin == OriginCache
}

// WithVerification returns a copy tagged with the given verification result
func (c CustomerInfo) WithVerification(v VerificationResult) CustomerInfo {
	out := c
	out.Verification = v
	out.Entitlements = EntitlementInfos{
		All:          make(map[string]EntitlementInfo, len(c.Entitlements.All)),
		Verification: v,
	}
	for id, info := range c.Entitlements.All {
		info.Verification = v
		out.Entitlements.All[id] = info
	}
	return out
}

// WithOrigin returns a copy with the given origin
func (c CustomerInfo) WithOrigin(o Origin) CustomerInfo {
	out := c
	out.Origin = o
	return out
}

// ActiveSubscriptions returns product ids of subscriptions that are active at RequestDate
func (c CustomerInfo) ActiveSubscriptions() []string {
	ids := make([]string, 0, len(c.Subscriptions))
	for id, sub := range c.Subscriptions {
		if IsDateActive(sub.ExpiresDate, c.RequestDate) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// AllPurchasedProductIDs returns every subscription and non-subscription product id
func (c CustomerInfo) AllPurchasedProductIDs() []string {
	seen := make(map[string]struct{}, len(c.Subscriptions)+len(c.NonSubscriptions))
	for id := range c.Subscriptions {
		seen[id] = struct{}{}
	}
	for _, tx := range c.NonSubscriptions {
		seen[tx.ProductIdentifier] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ExpirationDate returns the expiration of a subscription product, if known
func (c CustomerInfo) ExpirationDate(productID string) *time.Time {
	sub, ok := c.Subscriptions[productID]
	if !ok {
		return nil
	}
	return sub.ExpiresDate
}

// LatestExpirationDate returns the furthest expiration over all subscriptions
func (c CustomerInfo) LatestExpirationDate() *time.Time {
	var latest *time.Time
	for _, sub := range c.Subscriptions {
		if sub.ExpiresDate == nil {
			continue
		}
		if latest == nil || sub.ExpiresDate.After(*latest) {
			t := *sub.ExpiresDate
			latest = &t
		}
	}
	return latest
}

// Equal compares two values structurally, ignoring where they came from
func (c CustomerInfo) Equal(other CustomerInfo) bool {
	type fields CustomerInfo
	a, b := fields(c), fields(other)
	a.Origin, b.Origin = "", ""
	return cmp.Equal(a, b)
}
