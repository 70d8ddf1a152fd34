package purchase

import (
	"context"
	"time"
)

// PendingTransaction is a posted-but-unfinished transaction kept for retry
type PendingTransaction struct {
	Post      ReceiptPost `json:"post"`
	CreatedAt time.Time   `json:"created_at"`
	Attempts  int         `json:"attempts"`
}

// TransactionID returns the id of the pending store transaction
func (p PendingTransaction) TransactionID() string {
	return p.Post.Transaction.TransactionID
}

// PendingTransactionRepository persists PendingTransaction records
type PendingTransactionRepository interface {
	// Get returns shared.ErrNotFound when no record exists
	Get(ctx context.Context, transactionID string) (*PendingTransaction, error)
	Save(ctx context.Context, pending PendingTransaction) error
	Delete(ctx context.Context, transactionID string) error
	// List returns records ordered by transaction id
	List(ctx context.Context) ([]PendingTransaction, error)
}
