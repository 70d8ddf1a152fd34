package purchase

import (
	"time"

	"github.com/entitlesync/engine/internal/domain/shared"
)

const (
	EventTypeTransactionFinished      = "transaction.finished"
	EventTypeTransactionFinishSkipped = "transaction.finish_skipped"
	EventTypeTransactionsSynced       = "transactions.sync_completed"
)

// Reasons a transaction was left unfinished
const (
	SkipReasonRetryable         = "retryable_failure"
	SkipReasonComputedOffline   = "computed_offline"
	SkipReasonFinishingDisabled = "finishing_disabled"
	SkipReasonAlreadyFinished   = "already_finished"
)

// TransactionFinishedEvent is published after the store finished a transaction
type TransactionFinishedEvent struct {
	shared.BaseDomainEvent
	TransactionID string `json:"transaction_id"`
	ProductID     string `json:"product_id"`
	// AfterError is set when the transaction was finished because the backend marked the failure finishable
	AfterError string `json:"after_error,omitempty"`
}

// NewTransactionFinishedEvent creates a TransactionFinishedEvent
func NewTransactionFinishedEvent(appUserID string, tx StoreTransaction, cause error, at time.Time) *TransactionFinishedEvent {
	e := &TransactionFinishedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeTransactionFinished, appUserID, at),
		TransactionID:   tx.TransactionID,
		ProductID:       tx.ProductID,
	}
	if cause != nil {
		e.AfterError = cause.Error()
	}
	return e
}

// TransactionFinishSkippedEvent is published when a transaction is deliberately left unfinished
type TransactionFinishSkippedEvent struct {
	shared.BaseDomainEvent
	TransactionID string `json:"transaction_id"`
	ProductID     string `json:"product_id"`
	Reason        string `json:"reason"`
}

// NewTransactionFinishSkippedEvent creates a TransactionFinishSkippedEvent
func NewTransactionFinishSkippedEvent(appUserID string, tx StoreTransaction, reason string, at time.Time) *TransactionFinishSkippedEvent {
	return &TransactionFinishSkippedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeTransactionFinishSkipped, appUserID, at),
		TransactionID:   tx.TransactionID,
		ProductID:       tx.ProductID,
		Reason:          reason,
	}
}

// SyncOutcome distinguishes an idle retry pass from one that did work
type SyncOutcome string

const (
	SyncNothingToRetry SyncOutcome = "nothing_to_retry"
	SyncRetried        SyncOutcome = "retried"
)

// TransactionsSyncedEvent is the "pass completed" signal of a pending-transaction retry pass
type TransactionsSyncedEvent struct {
	shared.BaseDomainEvent
	Outcome SyncOutcome `json:"outcome"`
	Retried int         `json:"retried"`
	Failed  int         `json:"failed"`
}

// NewTransactionsSyncedEvent creates a TransactionsSyncedEvent
func NewTransactionsSyncedEvent(appUserID string, outcome SyncOutcome, retried, failed int, at time.Time) *TransactionsSyncedEvent {
	return &TransactionsSyncedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeTransactionsSynced, appUserID, at),
		Outcome:         outcome,
		Retried:         retried,
		Failed:          failed,
	}
}
