package purchase

// OutcomeKind enumerates what a store adapter can report for a purchase
type OutcomeKind string

const (
	OutcomeSucceeded     OutcomeKind = "succeeded"
	OutcomeUserCancelled OutcomeKind = "user_cancelled"
	OutcomePending       OutcomeKind = "pending"
	OutcomeFailed        OutcomeKind = "failed"
)

// StoreOutcome is the result of a store purchase interaction
type StoreOutcome struct {
	Kind        OutcomeKind
	Transaction *StoreTransaction
	Err         error
}

// Succeeded returns a successful outcome carrying tx
func Succeeded(tx StoreTransaction) StoreOutcome {
	return StoreOutcome{Kind: OutcomeSucceeded, Transaction: &tx}
}

// UserCancelled returns a cancelled outcome
func UserCancelled() StoreOutcome {
	return StoreOutcome{Kind: OutcomeUserCancelled}
}

// Pending returns an outcome for a purchase awaiting external approval
func Pending() StoreOutcome {
	return StoreOutcome{Kind: OutcomePending}
}

// Failed returns a failed outcome wrapping err
func Failed(err error) StoreOutcome {
	return StoreOutcome{Kind: OutcomeFailed, Err: err}
}
