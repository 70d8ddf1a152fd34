package purchase

import (
	"context"

	"github.com/entitlesync/engine/internal/domain/attribute"
	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/domain/entitlement"
)

// StoreAdapter drives the storefront purchase UI and finishes transactions
type StoreAdapter interface {
	Purchase(ctx context.Context, product StoreProduct, params Params) StoreOutcome
	TransactionFinisher
}

// TransactionFinisher marks a store transaction as fully handled
type TransactionFinisher interface {
	FinishTransaction(ctx context.Context, tx StoreTransaction) error
}

// CustomerInfoResponse is a decoded customer info body plus any per-attribute rejections
type CustomerInfoResponse struct {
	Info            customer.CustomerInfo
	AttributeErrors []attribute.Error
}

// ReceiptPoster posts receipts to the backend
type ReceiptPoster interface {
	PostReceipt(ctx context.Context, post ReceiptPost) (CustomerInfoResponse, error)
}

// CustomerInfoFetcher fetches the authoritative CustomerInfo
type CustomerInfoFetcher interface {
	GetCustomerInfo(ctx context.Context, appUserID string) (CustomerInfoResponse, error)
}

// MappingFetcher fetches the product entitlement mapping
type MappingFetcher interface {
	GetProductEntitlementMapping(ctx context.Context) (entitlement.Mapping, error)
}

// AttributePoster uploads subscriber attributes
type AttributePoster interface {
	PostSubscriberAttributes(ctx context.Context, appUserID string, attrs attribute.Set) ([]attribute.Error, error)
}

// Backend is the full entitlement backend client
type Backend interface {
	ReceiptPoster
	CustomerInfoFetcher
	MappingFetcher
	AttributePoster
}

// PurchasedProductsFetcher reads the device's local transaction history
type PurchasedProductsFetcher interface {
	CurrentlyPurchasedProducts(ctx context.Context) ([]customer.PurchasedProduct, error)
}
