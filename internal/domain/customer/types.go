package customer

import "strings"

// VerificationResult records whether the response a value was decoded from
// passed signature verification
type VerificationResult string

const (
	VerificationNotRequested VerificationResult = "NOT_REQUESTED"
	VerificationVerified     VerificationResult = "VERIFIED"
	VerificationFailed       VerificationResult = "FAILED"
)

// IsValid returns true if the result is a known value
func (v VerificationResult) IsValid() bool {
	switch v {
	case VerificationNotRequested, VerificationVerified, VerificationFailed:
		return true
	}
	return false
}

// Origin says where a CustomerInfo value came from
type Origin string

const (
	OriginNetwork             Origin = "network"
	OriginCache               Origin = "cache"
	OriginOfflineEntitlements Origin = "offline_entitlements"
)

// Store identifies the storefront a purchase was made in
type Store string

const (
	StoreAppStore    Store = "app_store"
	StoreMacAppStore Store = "mac_app_store"
	StorePlayStore   Store = "play_store"
	StoreAmazon      Store = "amazon"
	StoreStripe      Store = "stripe"
	StorePromotional Store = "promotional"
	StoreTestStore   Store = "test_store"
	StoreUnknown     Store = "unknown_store"
)

// ParseStore maps a wire value onto a Store, defaulting to StoreUnknown
func ParseStore(s string) Store {
	switch Store(strings.ToLower(s)) {
	case StoreAppStore, StoreMacAppStore, StorePlayStore, StoreAmazon,
		StoreStripe, StorePromotional, StoreTestStore:
		return Store(strings.ToLower(s))
	}
	return StoreUnknown
}

// PeriodType is the billing period kind of a subscription
type PeriodType string

const (
	PeriodNormal  PeriodType = "normal"
	PeriodIntro   PeriodType = "intro"
	PeriodTrial   PeriodType = "trial"
	PeriodPrepaid PeriodType = "prepaid"
)

// ParsePeriodType maps a wire value onto a PeriodType, defaulting to PeriodNormal
func ParsePeriodType(s string) PeriodType {
	switch PeriodType(strings.ToLower(s)) {
	case PeriodIntro:
		return PeriodIntro
	case PeriodTrial:
		return PeriodTrial
	case PeriodPrepaid:
		return PeriodPrepaid
	}
	return PeriodNormal
}

// OwnershipType distinguishes direct purchases from family-shared access
type OwnershipType string

const (
	OwnershipPurchased    OwnershipType = "PURCHASED"
	OwnershipFamilyShared OwnershipType = "FAMILY_SHARED"
	OwnershipUnknown      OwnershipType = "UNKNOWN"
)

// ParseOwnershipType maps a wire value onto an OwnershipType
func ParseOwnershipType(s string) OwnershipType {
	switch OwnershipType(strings.ToUpper(s)) {
	case OwnershipPurchased:
		return OwnershipPurchased
	case OwnershipFamilyShared:
		return OwnershipFamilyShared
	}
	return OwnershipUnknown
}
