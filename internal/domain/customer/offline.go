package customer

import (
	"sort"
	"time"

	"github.com/entitlesync/engine/internal/domain/entitlement"
)

// BuildOffline computes a CustomerInfo from purchases observed on the device
// and the product entitlement mapping. It is a pure function of its inputs.
//
// A mapped product grants the union of its mapped entitlements and its own
// hints. An unmapped product grants nothing but still shows up as a purchase. When several
// products grant the same entitlement the one expiring last wins, with a
// non-expiring grant beating any dated one.
func BuildOffline(products []PurchasedProduct, mapping entitlement.Mapping, appUserID string, requestDate time.Time) CustomerInfo {
	sorted := make([]PurchasedProduct, len(products))
	copy(sorted, products)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		if !a.PurchaseDate.Equal(b.PurchaseDate) {
			return a.PurchaseDate.Before(b.PurchaseDate)
		}
		return a.TransactionID < b.TransactionID
	})

	info := CustomerInfo{
		AppUserID:         appUserID,
		OriginalAppUserID: appUserID,
		RequestDate:       requestDate,
		FirstSeen:         requestDate,
		Entitlements: EntitlementInfos{
			All:          make(map[string]EntitlementInfo),
			Verification: VerificationNotRequested,
		},
		Subscriptions:    make(map[string]SubscriptionInfo),
		NonSubscriptions: []NonSubscriptionTransaction{},
		Verification:     VerificationNotRequested,
		Origin:           OriginOfflineEntitlements,
	}

	for _, p := range sorted {
		if p.IsSubscription() {
			sub := offlineSubscription(p, requestDate)
			if existing, ok := info.Subscriptions[p.ProductID]; !ok || expiresLater(sub.ExpiresDate, existing.ExpiresDate) {
				info.Subscriptions[p.ProductID] = sub
			}
		} else {
			info.NonSubscriptions = append(info.NonSubscriptions, NonSubscriptionTransaction{
				TransactionIdentifier: p.TransactionID,
				ProductIdentifier:     p.ProductID,
				PurchaseDate:          p.PurchaseDate,
				Store:                 p.Store,
				IsSandbox:             p.IsSandbox,
			})
		}

		for _, id := range grantedEntitlements(p, mapping) {
			candidate := offlineEntitlement(id, p, requestDate)
			if existing, ok := info.Entitlements.All[id]; ok && !supersedes(candidate, existing) {
				continue
			}
			info.Entitlements.All[id] = candidate
		}
	}

	return info
}

// grantedEntitlements returns nothing for unmapped products; store hints only
// extend a product the mapping already knows.
func grantedEntitlements(p PurchasedProduct, mapping entitlement.Mapping) []string {
	mapped := mapping.EntitlementsFor(p.ProductID)
	if len(mapped) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(mapped)+len(p.EntitlementHints))
	for _, id := range mapped {
		set[id] = struct{}{}
	}
	for _, id := range p.EntitlementHints {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func offlineSubscription(p PurchasedProduct, requestDate time.Time) SubscriptionInfo {
	purchased := p.PurchaseDate
	return SubscriptionInfo{
		ProductIdentifier:    p.ProductID,
		PurchaseDate:         p.PurchaseDate,
		OriginalPurchaseDate: &purchased,
		ExpiresDate:          p.Subscription.ExpirationDate,
		Store:                p.Store,
		IsSandbox:            p.IsSandbox,
		PeriodType:           periodOrNormal(p.Subscription.PeriodType),
		OwnershipType:        ownershipOrPurchased(p.Subscription.OwnershipType),
		IsActive:             IsDateActive(p.Subscription.ExpirationDate, requestDate),
		WillRenew:            p.Subscription.WillRenew,
	}
}

func offlineEntitlement(id string, p PurchasedProduct, requestDate time.Time) EntitlementInfo {
	purchased := p.PurchaseDate
	info := EntitlementInfo{
		Identifier:           id,
		IsActive:             true,
		PeriodType:           PeriodNormal,
		LatestPurchaseDate:   &purchased,
		OriginalPurchaseDate: &purchased,
		Store:                p.Store,
		ProductIdentifier:    p.ProductID,
		IsSandbox:            p.IsSandbox,
		OwnershipType:        OwnershipPurchased,
		Verification:         VerificationNotRequested,
	}
	if p.Subscription != nil {
		info.ExpirationDate = p.Subscription.ExpirationDate
		info.IsActive = IsDateActive(p.Subscription.ExpirationDate, requestDate)
		info.WillRenew = p.Subscription.WillRenew
		info.PeriodType = periodOrNormal(p.Subscription.PeriodType)
		info.OwnershipType = ownershipOrPurchased(p.Subscription.OwnershipType)
	}
	return info
}

// supersedes decides whether candidate should replace existing for the same entitlement
func supersedes(candidate, existing EntitlementInfo) bool {
	if candidate.IsActive != existing.IsActive {
		return candidate.IsActive
	}
	return expiresLater(candidate.ExpirationDate, existing.ExpirationDate)
}

// expiresLater reports whether a strictly outlives b; nil means never expires
func expiresLater(a, b *time.Time) bool {
	switch {
	case a == nil && b == nil:
		return false
	case a == nil:
		return true
	case b == nil:
		return false
	}
	return a.After(*b)
}

func periodOrNormal(p PeriodType) PeriodType {
	if p == "" {
		return PeriodNormal
	}
	return p
}

func ownershipOrPurchased(o OwnershipType) OwnershipType {
	if o == "" {
		return OwnershipPurchased
	}
	return o
}
