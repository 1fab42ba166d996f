package events

import (
	"github.com/google/uuid"
	eh "github.com/looplab/eventhorizon"
	"time"
)

const DatasetRegistered = eh.EventType("dataset:registered")
const DatasetQuarantined = eh.EventType("dataset:quarantined")
const DatasetRevoked = eh.EventType("dataset:revoked")

const AgreementProposed = eh.EventType("agreement:proposed")
const PaymentInitiated = eh.EventType("agreement:payment-initiated")
const AgreementGranted = eh.EventType("agreement:granted")
const AgreementExpired = eh.EventType("agreement:expired")
const AgreementRejected = eh.EventType("agreement:rejected")
const AgreementRevoked = eh.EventType("agreement:revoked")

const AccrualRecorded = eh.EventType("accrual:recorded")
const AccrualPaidOut = eh.EventType("accrual:paid-out")

type DatasetData struct {
	ID      uuid.UUID
	OwnerID string
	Digest  string
	Locator string
}

// TamperData describes an integrity failure found while verifying stored content.
type TamperData struct {
	ID             uuid.UUID
	ExpectedDigest string
	ActualDigest   string
	Reason         string
	DetectedAt     time.Time
}

type AgreementData struct {
	ID             uuid.UUID
	DatasetID      uuid.UUID
	ProviderID     string
	ConsumerID     string
	Price          uint64
	TxRef          string
	ExclusivityKey string
	Reason         string
}

type AccrualData struct {
	ID          uuid.UUID
	ProviderID  string
	AgreementID uuid.UUID
	Amount      uint64
}

func init() {
	eh.RegisterEventData(DatasetRegistered, func() eh.EventData {
		return &DatasetData{}
	})
	eh.RegisterEventData(DatasetRevoked, func() eh.EventData {
		return &DatasetData{}
	})
	eh.RegisterEventData(DatasetQuarantined, func() eh.EventData {
		return &TamperData{}
	})
	for _, t := range []eh.EventType{AgreementProposed, PaymentInitiated, AgreementGranted, AgreementExpired, AgreementRejected, AgreementRevoked} {
		eh.RegisterEventData(t, func() eh.EventData {
			return &AgreementData{}
		})
	}
	eh.RegisterEventData(AccrualRecorded, func() eh.EventData {
		return &AccrualData{}
	})
	eh.RegisterEventData(AccrualPaidOut, func() eh.EventData {
		return &AccrualData{}
	})
}

// AgreementOf returns the agreement data of an event, whether it carries the
// data by value or by pointer.
func AgreementOf(event eh.Event) (AgreementData, bool) {
	switch data := event.Data().(type) {
	case AgreementData:
		return data, true
	case *AgreementData:
		if data != nil {
			return *data, true
		}
	}
	return AgreementData{}, false
}
