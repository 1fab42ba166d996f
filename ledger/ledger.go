package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Chain is the external ledger. Implementations return an error wrapping
// ErrRejected when the ledger refuses a transaction; every other error is
// treated as transient and retried by the Adapter.
type Chain interface {
	// Send submits a transfer and returns its signature. Transfers carrying a
	// reference the chain has already seen return the original signature.
	Send(ctx context.Context, t Transfer) (string, error)
	// Status reports what the chain currently knows about a transaction.
	Status(ctx context.Context, signature string) (TxStatus, error)
	// Balance returns the spendable balance of an account.
	Balance(ctx context.Context, account string) (uint64, error)
}

// ErrRejected marks a transaction the ledger refused.
var ErrRejected = errors.New("ledger: transaction rejected")

// Transfer is a token transfer instruction.
type Transfer struct {
	From      string
	To        string
	Amount    uint64
	Memo      string
	Reference string
}

// TxStatus is the chain's view of a transaction.
type TxStatus struct {
	Found         bool
	Confirmations uint64
	Failed        bool
	Err           string
	Amount        uint64
	Sender        string
	Recipient     string
}

// Intent is a settlement transaction the state machine wants on the ledger.
type Intent struct {
	AgreementID    uuid.UUID
	DatasetID      uuid.UUID
	From           string
	To             string
	Amount         uint64
	AccessDuration string
}

// Key is the intent's dedupe key: the same agreement paying the same amount
// is the same intent.
func (i Intent) Key() string {
	return fmt.Sprintf("%s/%d", i.AgreementID, i.Amount)
}

// Status of a submitted transaction as reported by Confirm.
type Status string

const Pending = Status("PENDING")
const Confirmed = Status("CONFIRMED")
const Failed = Status("FAILED")

// Confirmation is the result of polling a submitted transaction.
type Confirmation struct {
	Status        Status
	Signature     string
	Amount        uint64
	Sender        string
	Recipient     string
	Confirmations uint64
	Reason        string
}
