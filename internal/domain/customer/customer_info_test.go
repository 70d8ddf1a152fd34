package customer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sampleInfo() CustomerInfo {
	expires := now.Add(30 * 24 * time.Hour)
	return CustomerInfo{
		AppUserID:   "user-1",
		RequestDate: now,
		Entitlements: EntitlementInfos{All: map[string]EntitlementInfo{
			"pro": {Identifier: "pro", IsActive: true, ProductIdentifier: "monthly_sub", ExpirationDate: &expires},
		}},
		Subscriptions: map[string]SubscriptionInfo{
			"monthly_sub": {ProductIdentifier: "monthly_sub", ExpiresDate: &expires},
		},
		Origin: OriginNetwork,
	}
}

func TestCustomerInfo_WithVerification(t *testing.T) {
	info := sampleInfo()

	tagged := info.WithVerification(VerificationFailed)

	assert.Equal(t, VerificationFailed, tagged.Verification)
	assert.Equal(t, VerificationFailed, tagged.Entitlements.Verification)
	assert.Equal(t, VerificationFailed, tagged.Entitlements.All["pro"].Verification)
	// original is not mutated
	assert.Equal(t, VerificationResult(""), info.Entitlements.All["pro"].Verification)
}

func TestCustomerInfo_Origin(t *testing.T) {
	info := sampleInfo()
	assert.False(t, info.IsLoadedFromCache())

	cached := info.WithOrigin(OriginCache)
	assert.True(t, cached.IsLoadedFromCache())
	assert.False(t, cached.IsComputedOffline())
	assert.True(t, info.Equal(cached), "origin is ignored by Equal")
}

func TestCustomerInfo_Expirations(t *testing.T) {
	info := sampleInfo()
	assert.Equal(t, []string{"monthly_sub"}, info.ActiveSubscriptions())
	assert.NotNil(t, info.ExpirationDate("monthly_sub"))
	assert.Nil(t, info.ExpirationDate("missing"))
	assert.Equal(t, info.ExpirationDate("monthly_sub"), info.LatestExpirationDate())
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, StorePlayStore, ParseStore("PLAY_STORE"))
	assert.Equal(t, StoreUnknown, ParseStore("carrier"))
	assert.Equal(t, PeriodTrial, ParsePeriodType("trial"))
	assert.Equal(t, PeriodNormal, ParsePeriodType(""))
	assert.Equal(t, OwnershipFamilyShared, ParseOwnershipType("family_shared"))
	assert.Equal(t, OwnershipUnknown, ParseOwnershipType("x"))
}

func TestAnonymousIdentity(t *testing.T) {
	id := NewAnonymousIdentity()
	assert.True(t, IsAnonymous(id.CurrentAppUserID()))
	assert.False(t, IsAnonymous(StaticIdentity("alice").CurrentAppUserID()))
	assert.NotEqual(t, id, NewAnonymousIdentity())
}
