package attribute

import (
	"errors"
	"strings"
	"time"
)

// Reserved attribute keys understood by the backend
const (
	KeyEmail       = "$email"
	KeyDisplayName = "$displayName"
	KeyPhoneNumber = "$phoneNumber"
	KeyFCMTokens   = "$fcmTokens"
	KeyAPNSTokens  = "$apnsTokens"
)

// ReservedPrefix marks keys that belong to the backend's reserved namespace
const ReservedPrefix = "$"

var (
	ErrEmptyKey    = errors.New("attribute: key must not be empty")
	ErrReservedKey = errors.New("attribute: unknown reserved key")
)

var reserved = map[string]struct{}{
	KeyEmail:       {},
	KeyDisplayName: {},
	KeyPhoneNumber: {},
	KeyFCMTokens:   {},
	KeyAPNSTokens:  {},
}

// ValidateKey checks a key is non-empty and, if reserved, known
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if strings.HasPrefix(key, ReservedPrefix) {
		if _, ok := reserved[key]; !ok {
			return ErrReservedKey
		}
	}
	return nil
}

// SubscriberAttribute is a key/value pair about the customer awaiting or past upload
type SubscriberAttribute struct {
	Key      string    `json:"key"`
	Value    string    `json:"value"`
	SetTime  time.Time `json:"set_time"`
	IsSynced bool      `json:"is_synced"`
}

// New creates an unsynced attribute set at setTime
func New(key, value string, setTime time.Time) SubscriberAttribute {
	return SubscriberAttribute{Key: key, Value: value, SetTime: setTime}
}

// Set is a user's attributes keyed by attribute key
type Set map[string]SubscriberAttribute

// Unsynced returns the attributes not yet acknowledged by the backend
func (s Set) Unsynced() Set {
	out := make(Set)
	for k, a := range s {
		if !a.IsSynced {
			out[k] = a
		}
	}
	return out
}

// AllSynced returns true if every attribute was acknowledged
func (s Set) AllSynced() bool {
	for _, a := range s {
		if !a.IsSynced {
			return false
		}
	}
	return true
}

// Error is a per-attribute rejection returned by the backend
type Error struct {
	KeyName string `json:"key_name"`
	Message string `json:"message"`
}
