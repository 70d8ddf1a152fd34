package backend

import (
	"time"

	"github.com/entitlesync/engine/internal/domain/attribute"
	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/domain/entitlement"
)

// subscriberEnvelope is the body returned by the receipt and subscriber endpoints
type subscriberEnvelope struct {
	RequestDate     time.Time             `json:"request_date"`
	Subscriber      customer.CustomerInfo `json:"subscriber"`
	AttributeErrors []attribute.Error     `json:"attribute_errors,omitempty"`
}

// errorBody is the JSON error returned with 4xx and 5xx responses
type errorBody struct {
	Code            int               `json:"code"`
	Message         string            `json:"message"`
	AttributeErrors []attribute.Error `json:"attribute_errors,omitempty"`
}

// mappingEnvelope is the body returned by the product entitlement mapping endpoint
type mappingEnvelope struct {
	ProductEntitlementMapping map[string]entitlement.Row `json:"product_entitlement_mapping"`
}

type attributesRequest struct {
	Attributes map[string]attributeValue `json:"attributes"`
}

type attributeValue struct {
	Value       string `json:"value"`
	UpdatedAtMS int64  `json:"updated_at_ms"`
}

type attributesResponse struct {
	AttributeErrors []attribute.Error `json:"attribute_errors,omitempty"`
}

func newAttributesRequest(attrs attribute.Set) attributesRequest {
	req := attributesRequest{Attributes: make(map[string]attributeValue, len(attrs))}
	for key, a := range attrs {
		req.Attributes[key] = attributeValue{Value: a.Value, UpdatedAtMS: a.SetTime.UnixMilli()}
	}
	return req
}

func (e mappingEnvelope) mapping() entitlement.Mapping {
	rows := make([]entitlement.Row, 0, len(e.ProductEntitlementMapping))
	for key, row := range e.ProductEntitlementMapping {
		if row.ProductIdentifier == "" {
			row.ProductIdentifier = key
		}
		rows = append(rows, row)
	}
	return entitlement.NewMapping(rows...)
}

func (e subscriberEnvelope) customerInfo(appUserID string, verification customer.VerificationResult) customer.CustomerInfo {
	info := e.Subscriber
	if info.AppUserID == "" {
		info.AppUserID = appUserID
	}
	if info.OriginalAppUserID == "" {
		info.OriginalAppUserID = info.AppUserID
	}
	if info.RequestDate.IsZero() {
		info.RequestDate = e.RequestDate
	}
	if info.Subscriptions == nil {
		info.Subscriptions = map[string]customer.SubscriptionInfo{}
	}
	return info.WithVerification(verification).WithOrigin(customer.OriginNetwork)
}
