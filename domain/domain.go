package domain

import (
	"time"

	"github.com/google/uuid"
	eh "github.com/looplab/eventhorizon"
)

const DatasetAggregateType = eh.AggregateType("dataset")

const AgreementAggregateType = eh.AggregateType("agreement")

const AccrualAggregateType = eh.AggregateType("accrual")

// AccrualIDSpace is the namespace used to derive accrual entry IDs from agreement IDs.
var AccrualIDSpace = uuid.Must(uuid.Parse("6ba7b812-9dad-11d1-80b4-00c04fd430c8"))

// Visibility of a dataset in the registry.
type Visibility string

const Public = Visibility("PUBLIC")
const Gated = Visibility("GATED")
const Quarantined = Visibility("QUARANTINED")
const Revoked = Visibility("REVOKED")

// Hidden reports whether content of a dataset with this visibility may no longer be located.
func (v Visibility) Hidden() bool {
	return v == Quarantined || v == Revoked
}

// DataType classifies the scientific content of a dataset.
type DataType string

const Experimental = DataType("experimental")
const Observational = DataType("observational")
const Computational = DataType("computational")
const Survey = DataType("survey")

func (d DataType) Valid() bool {
	switch d {
	case Experimental, Observational, Computational, Survey, "":
		return true
	}
	return false
}

// Metadata is descriptive information supplied by the provider on registration.
type Metadata struct {
	Title       string
	Description string
	DataType    DataType
	Keywords    []string
	Authors     []string
	License     string
	ContentType string
	SizeBytes   uint64
}

// Dataset is a registered, content addressed dataset.
type Dataset struct {
	ID           uuid.UUID
	Digest       string
	Locator      string
	OwnerID      string
	RegisteredAt time.Time
	Visibility   Visibility
	// Exclusive overrides the configured exclusivity default when set.
	Exclusive *bool
	Price     uint64
	Metadata  Metadata
}

// AgreementState is the lifecycle state of a dataset access agreement.
type AgreementState string

const Proposed = AgreementState("PROPOSED")
const PaymentPending = AgreementState("PAYMENT_PENDING")
const Granted = AgreementState("GRANTED")
const Rejected = AgreementState("REJECTED")
const Expired = AgreementState("EXPIRED")
const RevokedAgreement = AgreementState("REVOKED")

// Terminal reports whether no further payment-driven transitions are possible.
// GRANTED is terminal for the payment flow; only an administrative revoke leaves it.
func (s AgreementState) Terminal() bool {
	switch s {
	case Proposed, PaymentPending:
		return false
	}
	return true
}

// Agreement is a consumer's access negotiation with a provider over one dataset.
type Agreement struct {
	ID              uuid.UUID
	DatasetID       uuid.UUID
	ProviderID      string
	ConsumerID      string
	Price           uint64
	State           AgreementState
	ProposedAt      time.Time
	TxRef           string
	PaymentDeadline time.Time
	AccessExpiresAt time.Time
	ExclusivityKey  string
	Reason          string
	GrantedAt       time.Time
	// Accrued is set once the grant's accrual entry is known to exist.
	Accrued   bool
	UpdatedAt time.Time
	Version   uint64
}

// AccessExpired reports whether a granted agreement's access window has passed.
func (a Agreement) AccessExpired(now time.Time) bool {
	return !a.AccessExpiresAt.IsZero() && !now.Before(a.AccessExpiresAt)
}

// LedgerTransactionRecord is the adapter's view of a ledger transaction.
type LedgerTransactionRecord struct {
	Signature     string
	IntentKey     string
	Amount        uint64
	Sender        string
	Recipient     string
	Confirmations uint64
	Final         bool
	Failed        bool
	FailReason    string
	ObservedAt    time.Time
}

// AccrualEntry is a payable credit to a provider generated by an agreement grant.
type AccrualEntry struct {
	ID          uuid.UUID
	ProviderID  string
	AgreementID uuid.UUID
	Amount      uint64
	AccruedAt   time.Time
	PaidOut     bool
	PaidOutAt   time.Time
	Version     uint64
}

// AccrualID derives the entry ID for an agreement, so replays map onto the same entry.
func AccrualID(agreementID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(AccrualIDSpace, agreementID[:])
}
