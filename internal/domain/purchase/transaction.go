package purchase

import (
	"time"

	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StoreTransaction is a completed store purchase awaiting receipt posting
type StoreTransaction struct {
	TransactionID string         `json:"transaction_id"`
	ProductID     string         `json:"product_id"`
	PurchaseDate  time.Time      `json:"purchase_date"`
	Quantity      int            `json:"quantity"`
	Store         customer.Store `json:"store"`
	IsSandbox     bool           `json:"is_sandbox"`
	// ReceiptData is the opaque proof of purchase the backend validates
	ReceiptData string `json:"receipt_data"`
}

// Token is the in-flight handle registered for one product while it is being purchased
type Token struct {
	ID        uuid.UUID
	ProductID string
	StartedAt time.Time
	cancel    func()
}

// NewToken creates a token for productID. cancel aborts the store interaction.
func NewToken(productID string, startedAt time.Time, cancel func()) *Token {
	return &Token{ID: uuid.New(), ProductID: productID, StartedAt: startedAt, cancel: cancel}
}

// Cancel aborts the store interaction the token guards
func (t *Token) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

// InitiationSource says why a receipt is being posted
type InitiationSource string

const (
	InitiationPurchase InitiationSource = "purchase"
	InitiationRestore  InitiationSource = "restore"
	InitiationQueue    InitiationSource = "queue"
)

// ReceiptPost is the payload posted to the backend for one transaction
type ReceiptPost struct {
	AppUserID           string           `json:"app_user_id"`
	Transaction         StoreTransaction `json:"transaction"`
	ProductID           string           `json:"product_id"`
	Price               decimal.Decimal  `json:"price"`
	CurrencyCode        string           `json:"currency_code,omitempty"`
	PresentedOfferingID string           `json:"presented_offering_id,omitempty"`
	PlacementID         string           `json:"placement_id,omitempty"`
	ObserverMode        bool             `json:"observer_mode"`
	InitiationSource    InitiationSource `json:"initiation_source"`
}

// NewReceiptPost builds the receipt payload for a freshly purchased transaction
func NewReceiptPost(appUserID string, tx StoreTransaction, product StoreProduct, params Params, observerMode bool) ReceiptPost {
	return ReceiptPost{
		AppUserID:           appUserID,
		Transaction:         tx,
		ProductID:           product.ID,
		Price:               product.Price,
		CurrencyCode:        product.CurrencyCode,
		PresentedOfferingID: params.PresentedOfferingID,
		PlacementID:         params.PlacementID,
		ObserverMode:        observerMode,
		InitiationSource:    InitiationPurchase,
	}
}
