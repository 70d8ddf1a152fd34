package customer

import (
	"sort"
	"time"
)

// EntitlementInfo describes a single entitlement the customer holds or held
type EntitlementInfo struct {
	Identifier             string             `json:"identifier"`
	IsActive               bool               `json:"is_active"`
	WillRenew              bool               `json:"will_renew"`
	PeriodType             PeriodType         `json:"period_type"`
	LatestPurchaseDate     *time.Time         `json:"latest_purchase_date,omitempty"`
	OriginalPurchaseDate   *time.Time         `json:"original_purchase_date,omitempty"`
	ExpirationDate         *time.Time         `json:"expiration_date,omitempty"`
	Store                  Store              `json:"store"`
	ProductIdentifier      string             `json:"product_identifier"`
	IsSandbox              bool               `json:"is_sandbox"`
	UnsubscribeDetectedAt  *time.Time         `json:"unsubscribe_detected_at,omitempty"`
	BillingIssueDetectedAt *time.Time         `json:"billing_issue_detected_at,omitempty"`
	OwnershipType          OwnershipType      `json:"ownership_type"`
	Verification           VerificationResult `json:"verification"`
}

// IsLifetime returns true if the entitlement never expires
func (e EntitlementInfo) IsLifetime() bool {
	return e.ExpirationDate == nil
}

// EntitlementInfos is the set of entitlements keyed by identifier
type EntitlementInfos struct {
	All          map[string]EntitlementInfo `json:"all"`
	Verification VerificationResult         `json:"verification"`
}

// Get returns the entitlement with the given identifier
func (e EntitlementInfos) Get(identifier string) (EntitlementInfo, bool) {
	info, ok := e.All[identifier]
	return info, ok
}

// Active returns only the active entitlements
func (e EntitlementInfos) Active() map[string]EntitlementInfo {
	active := make(map[string]EntitlementInfo)
	for id, info := range e.All {
		if info.IsActive {
			active[id] = info
		}
	}
	return active
}

// ActiveIdentifiers returns the identifiers of active entitlements, sorted
func (e EntitlementInfos) ActiveIdentifiers() []string {
	ids := make([]string, 0, len(e.All))
	for id, info := range e.All {
		if info.IsActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// IsDateActive reports whether something expiring at expiration is still
// active at reference. A nil expiration never expires.
func IsDateActive(expiration *time.Time, reference time.Time) bool {
	if expiration == nil {
		return true
	}
	return expiration.After(reference)
}
