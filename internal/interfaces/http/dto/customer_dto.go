package dto

import (
	"time"

	"github.com/entitlesync/engine/internal/domain/attribute"
)

// CustomerInfoQuery selects the fetch policy for GET /customers/:app_user_id
type CustomerInfoQuery struct {
	Policy string `form:"policy" binding:"omitempty,oneof=cached_or_fetched fetch_current not_stale_cached_or_fetched from_cache_only"`
}

// AttributesRequest sets subscriber attributes. Reserved keys start with "$".
type AttributesRequest struct {
	Attributes map[string]string `json:"attributes" binding:"required,min=1,dive,keys,attrkey,endkeys,max=4096"`
	// SyncNow pushes the attributes to the backend before responding
	SyncNow bool `json:"sync_now"`
}

// AttributeResponse is one stored attribute
type AttributeResponse struct {
	Value    string    `json:"value"`
	SetTime  time.Time `json:"set_time"`
	IsSynced bool      `json:"is_synced"`
}

// AttributesResponse is a user's stored attributes keyed by attribute key
type AttributesResponse struct {
	AppUserID  string                       `json:"app_user_id"`
	Attributes map[string]AttributeResponse `json:"attributes"`
	SyncError  string                       `json:"sync_error,omitempty"`
}

// NewAttributesResponse converts a stored attribute set
func NewAttributesResponse(appUserID string, set attribute.Set) AttributesResponse {
	out := AttributesResponse{
		AppUserID:  appUserID,
		Attributes: make(map[string]AttributeResponse, len(set)),
	}
	for key, a := range set {
		out.Attributes[key] = AttributeResponse{Value: a.Value, SetTime: a.SetTime, IsSynced: a.IsSynced}
	}
	return out
}

// SyncJobResult is the outcome of one job in a manual sync
type SyncJobResult struct {
	Job   string `json:"job"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
