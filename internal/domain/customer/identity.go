package customer

import (
	"strings"

	"github.com/google/uuid"
)

// AnonymousIDPrefix marks app user ids generated on the device
const AnonymousIDPrefix = "$anonymous:"

// Identity supplies the app user the engine is currently acting for
type Identity interface {
	CurrentAppUserID() string
}

// StaticIdentity is an Identity that never changes
type StaticIdentity string

// CurrentAppUserID implements Identity
func (s StaticIdentity) CurrentAppUserID() string {
	return string(s)
}

// NewAnonymousIdentity generates a fresh anonymous app user id
func NewAnonymousIdentity() StaticIdentity {
	return StaticIdentity(AnonymousIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// IsAnonymous returns true if the app user id was generated on the device
func IsAnonymous(appUserID string) bool {
	return strings.HasPrefix(appUserID, AnonymousIDPrefix)
}
