package commands

import (
	"github.com/datanova-ai/datanova-exchange/domain"
	"github.com/google/uuid"
	eh "github.com/looplab/eventhorizon"
)

const ExpireAgreementCmdType = eh.CommandType("agreement:expire")

// ExpireAgreement forces a non-terminal agreement into EXPIRED.
type ExpireAgreement struct {
	ID     uuid.UUID
	Reason string `eh:"optional"`
}

func init() {
	eh.RegisterCommand(func() eh.Command {
		return &ExpireAgreement{}
	})
}

func (cmd ExpireAgreement) AggregateID() uuid.UUID {
	return cmd.ID
}

func (cmd ExpireAgreement) AggregateType() eh.AggregateType {
	return domain.AgreementAggregateType
}

func (cmd ExpireAgreement) CommandType() eh.CommandType {
	return ExpireAgreementCmdType
}
